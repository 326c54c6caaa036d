package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestBuildPromptUsesDefaultsForEmptyFields(t *testing.T) {
	p := BuildPrompt(Request{})

	assert.Contains(t, p, "四択問題を5問生成")
	for _, want := range []string{defaultGenre, defaultTopic, defaultGoal, defaultBackground, defaultOutputFormat, defaultConstraints, defaultNotes} {
		assert.Contains(t, p, want)
	}
	assert.NotContains(t, p, ": \n")
}

func TestBuildPromptEmbedsRequestFields(t *testing.T) {
	p := BuildPrompt(Request{
		Genre:       " Networking ",
		ProblemType: "Subnetting",
		Goal:        "CCNA",
		Notes:       "IPv4 only",
		Count:       intPtr(3),
	})

	assert.Contains(t, p, "四択問題を3問生成")
	assert.Contains(t, p, "- ジャンル: Networking\n")
	assert.Contains(t, p, "- 問題タイプ/トピック: Subnetting\n")
	assert.Contains(t, p, "- 目標: CCNA\n")
	assert.Contains(t, p, "- メモ: IPv4 only\n")
	assert.Contains(t, p, `"domain_name": "Networking"`)
	assert.Contains(t, p, `"topic_name": "Subnetting"`)
}

func TestBuildPromptClampsCount(t *testing.T) {
	cases := []struct {
		count *int
		want  string
	}{
		{nil, "5問"},
		{intPtr(0), "1問"},
		{intPtr(-4), "1問"},
		{intPtr(50), "50問"},
		{intPtr(51), "50問"},
	}
	for _, tc := range cases {
		p := BuildPrompt(Request{Count: tc.count})
		assert.True(t, strings.Contains(p, tc.want), "want %s in prompt", tc.want)
	}
}

func TestReplaceScopeNeedsBothNames(t *testing.T) {
	_, _, ok := Request{Genre: "Networking"}.normalized().replaceScope()
	assert.False(t, ok)

	domain, topic, ok := Request{Genre: " Networking", ProblemType: "Subnetting "}.normalized().replaceScope()
	assert.True(t, ok)
	assert.Equal(t, "Networking", domain)
	assert.Equal(t, "Subnetting", topic)
}
