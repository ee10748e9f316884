package extract

import (
	"regexp"
	"strings"

	"github.com/Seren-Labs/companion-memory/src/memory/model"
)

// Rule maps a self-referential pattern to a fact slot. List-valued slots
// (likes, goals, fears) accumulate distinct values under compound keys;
// single-valued slots (name, age) are overwritten by the latest match within
// one extraction call.
type Rule struct {
	Pattern    *regexp.Regexp
	Category   model.Category
	Key        string
	ListValued bool
	Confidence float64
}

// DefaultConfidence is assigned to every rule-extracted fact.
const DefaultConfidence = 0.8

// cnStop ends a Chinese capture at the first punctuation or whitespace.
const cnStop = `([^，。,！!？?、\s]+)`

// DefaultRules covers identity, age, occupation, location, likes, dislikes,
// goals, and fears in Chinese and English. Order matters: within one call a
// later match on the same single-valued slot wins.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: regexp.MustCompile(`我叫` + cnStop), Category: model.CategoryFact, Key: "name", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我的名字是` + cnStop), Category: model.CategoryFact, Key: "name", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bmy name is ([A-Za-z][\w'-]*)`), Category: model.CategoryFact, Key: "name", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) called ([A-Za-z][\w'-]*)`), Category: model.CategoryFact, Key: "name", Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我今年(\d{1,3})岁`), Category: model.CategoryFact, Key: "age", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我(\d{1,3})岁`), Category: model.CategoryFact, Key: "age", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) (\d{1,3}) years old`), Category: model.CategoryFact, Key: "age", Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我的工作是` + cnStop), Category: model.CategoryFact, Key: "occupation", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我是一名` + cnStop), Category: model.CategoryFact, Key: "occupation", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi work as (?:an? )?([a-z][\w ]*?)(?:[.,!?]|$)`), Category: model.CategoryFact, Key: "occupation", Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我住在` + cnStop), Category: model.CategoryFact, Key: "location", Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi live in ([A-Za-z][\w ]*?)(?:[.,!?]|$)`), Category: model.CategoryFact, Key: "location", Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我(?:很|最|真的|特别)?喜欢` + cnStop), Category: model.CategoryPreference, Key: "likes", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我爱` + cnStop), Category: model.CategoryPreference, Key: "likes", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love|enjoy) ([\w ]+?)(?:[.,!?]|$)`), Category: model.CategoryPreference, Key: "likes", ListValued: true, Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我不喜欢` + cnStop), Category: model.CategoryPreference, Key: "dislikes", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我讨厌` + cnStop), Category: model.CategoryPreference, Key: "dislikes", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi (?:hate|dislike|can't stand) ([\w ]+?)(?:[.,!?]|$)`), Category: model.CategoryPreference, Key: "dislikes", ListValued: true, Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我想要?` + cnStop), Category: model.CategoryGoal, Key: "goals", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我希望` + cnStop), Category: model.CategoryGoal, Key: "goals", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi (?:want to|hope to|plan to|dream of) ([\w ]+?)(?:[.,!?]|$)`), Category: model.CategoryGoal, Key: "goals", ListValued: true, Confidence: DefaultConfidence},

		{Pattern: regexp.MustCompile(`我(?:很)?害怕` + cnStop), Category: model.CategoryTrigger, Key: "fears", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`我怕` + cnStop), Category: model.CategoryTrigger, Key: "fears", ListValued: true, Confidence: DefaultConfidence},
		{Pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) (?:afraid|scared) of ([\w ]+?)(?:[.,!?]|$)`), Category: model.CategoryTrigger, Key: "fears", ListValued: true, Confidence: DefaultConfidence},
	}
}

// DefaultTopicKeywords maps each topic bucket to its trigger keywords,
// Chinese and English mixed.
func DefaultTopicKeywords() map[model.Topic][]string {
	return map[model.Topic][]string{
		model.TopicWork: {
			"工作", "加班", "上班", "老板", "同事", "项目",
			"work", "job", "boss", "office", "deadline", "coworker",
		},
		model.TopicFamily: {
			"家人", "妈妈", "爸爸", "父母", "哥哥", "姐姐", "弟弟", "妹妹",
			"family", "mom", "dad", "mother", "father", "parents", "sister", "brother",
		},
		model.TopicHobbies: {
			"爱好", "吉他", "弹琴", "音乐", "画画", "游戏", "运动", "读书", "旅行",
			"hobby", "guitar", "music", "painting", "gaming", "reading", "travel", "sport",
		},
		model.TopicRelationships: {
			"朋友", "恋爱", "男朋友", "女朋友", "喜欢的人", "暗恋",
			"friend", "boyfriend", "girlfriend", "crush", "dating", "relationship",
		},
		model.TopicProblems: {
			"烦恼", "压力", "困难", "难过", "焦虑", "失眠",
			"problem", "stress", "trouble", "worried", "anxious", "tired",
		},
		model.TopicDreams: {
			"梦想", "未来", "愿望", "理想",
			"dream", "future", "wish", "someday", "ambition",
		},
	}
}

// sentenceSplitter breaks a message into clause-level units for topic
// classification.
var sentenceSplitter = regexp.MustCompile(`[。！？!?.;；\n]+|，|,`)

func splitSentences(message string) []string {
	parts := sentenceSplitter.Split(message, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
