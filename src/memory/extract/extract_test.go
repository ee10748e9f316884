package extract

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

func TestRuleExtractorNameAndHobby(t *testing.T) {
	r := NewRuleExtractor(nil, nil)
	res, err := r.Extract(context.Background(), "我叫小明，我喜欢弹吉他", "")
	if err != nil {
		t.Fatal(err)
	}

	var name, like *FactCandidate
	for i := range res.Facts {
		switch {
		case res.Facts[i].Category == model.CategoryFact && res.Facts[i].Key == "name":
			name = &res.Facts[i]
		case res.Facts[i].Category == model.CategoryPreference:
			like = &res.Facts[i]
		}
	}
	if name == nil || name.Value != "小明" {
		t.Fatalf("name fact missing or wrong: %+v", res.Facts)
	}
	if name.Confidence != DefaultConfidence {
		t.Fatalf("confidence = %v", name.Confidence)
	}
	if like == nil || like.Value != "弹吉他" {
		t.Fatalf("preference fact missing or wrong: %+v", res.Facts)
	}

	foundHobby := false
	for _, te := range res.Topics {
		if te.Topic == model.TopicHobbies && te.Text == "我喜欢弹吉他" {
			foundHobby = true
		}
	}
	if !foundHobby {
		t.Fatalf("hobbies topic entry missing: %+v", res.Topics)
	}
}

func TestRuleExtractorEnglishPatterns(t *testing.T) {
	r := NewRuleExtractor(nil, nil)
	res, err := r.Extract(context.Background(), "My name is Alice. I live in Berlin, and I hate spiders!", "")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, f := range res.Facts {
		got[f.Key] = f.Value
	}
	if got["name"] != "Alice" {
		t.Fatalf("name = %q", got["name"])
	}
	if got["location"] != "Berlin" {
		t.Fatalf("location = %q", got["location"])
	}
	if got["dislikes:spiders"] != "spiders" {
		t.Fatalf("dislikes = %+v", got)
	}
}

func TestRuleExtractorListValuesAccumulate(t *testing.T) {
	r := NewRuleExtractor(nil, nil)
	res, err := r.Extract(context.Background(), "我喜欢音乐，我喜欢画画，我喜欢音乐", "")
	if err != nil {
		t.Fatal(err)
	}
	likes := map[string]bool{}
	for _, f := range res.Facts {
		if f.Category == model.CategoryPreference {
			likes[f.Value] = true
		}
	}
	if len(likes) != 2 || !likes["音乐"] || !likes["画画"] {
		t.Fatalf("likes = %v", likes)
	}
}

func TestImportanceAndEmotion(t *testing.T) {
	score := Importance("这是我第一次告诉别人，真的永远难忘")
	if score < SpecialMomentThreshold {
		t.Fatalf("importance = %v, expected special moment", score)
	}
	if Importance("今天天气还行") != 0 {
		t.Fatal("plain message scored importance")
	}
	if e := DetectEmotion("今天好开心，谢谢你"); e != "positive" {
		t.Fatalf("emotion = %q", e)
	}
	if e := DetectEmotion("我好难过，想哭"); e != "negative" {
		t.Fatalf("emotion = %q", e)
	}
}

func TestParsePayloadStrict(t *testing.T) {
	good := `{"longTerm":[{"category":"preference","key":"likes:tea","value":"tea","confidence":0.9}],"episodic":["shared a childhood story"]}`
	res, err := parsePayload(good)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Facts) != 1 || res.Facts[0].Value != "tea" {
		t.Fatalf("facts = %+v", res.Facts)
	}
	if len(res.Episodes) != 1 {
		t.Fatalf("episodes = %+v", res.Episodes)
	}

	for _, bad := range []string{
		"not json at all",
		`{"longTerm":[{"category":"nonsense","key":"k","value":"v","confidence":0.5}],"episodic":[]}`,
		`{"longTerm":[{"category":"fact","key":"k","value":"","confidence":0.5}],"episodic":[]}`,
		`{"unexpected":true}`,
	} {
		if _, err := parsePayload(bad); err == nil {
			t.Fatalf("payload accepted: %s", bad)
		}
	}
}

// erroringExtractor stands in for an unreachable LLM.
type erroringExtractor struct{}

func (erroringExtractor) Extract(context.Context, string, string) (Result, error) {
	return Result{}, errors.New("model offline")
}

func TestCombinedExtractorSurvivesLLMFailure(t *testing.T) {
	c := NewCombinedExtractor(NewRuleExtractor(nil, nil), erroringExtractor{}, log.New(io.Discard))
	res, err := c.Extract(context.Background(), "我叫小明", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Facts) != 1 || res.Facts[0].Value != "小明" {
		t.Fatalf("rule results lost on llm failure: %+v", res.Facts)
	}
}

// fixedExtractor returns a canned result.
type fixedExtractor struct{ res Result }

func (f fixedExtractor) Extract(context.Context, string, string) (Result, error) {
	return f.res, nil
}

func TestCombinedExtractorUnions(t *testing.T) {
	llm := fixedExtractor{res: Result{
		Facts:    []FactCandidate{{Category: model.CategoryGoal, Key: "goals:travel", Value: "travel", Confidence: 0.7}},
		Episodes: []string{"dreams of travelling"},
	}}
	c := NewCombinedExtractor(NewRuleExtractor(nil, nil), llm, log.New(io.Discard))
	res, err := c.Extract(context.Background(), "我叫小明", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Facts) != 2 {
		t.Fatalf("facts = %+v", res.Facts)
	}
	if len(res.Episodes) != 1 || res.Episodes[0] != "dreams of travelling" {
		t.Fatalf("episodes = %+v", res.Episodes)
	}
}
