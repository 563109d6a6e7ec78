package contest

import (
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/rpconcours/concours/core"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusArchived, true},
		{StatusDraft, StatusClosed, false},
		{StatusActive, StatusClosed, true},
		{StatusActive, StatusDraft, false},
		{StatusActive, StatusArchived, false},
		{StatusClosed, StatusActive, true},
		{StatusClosed, StatusArchived, true},
		{StatusClosed, StatusDraft, false},
		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusDraft, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestContest_IsOpen(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	before, after := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name string
		c    Contest
		want bool
	}{
		{"draft", Contest{Status: StatusDraft}, false},
		{"closed", Contest{Status: StatusClosed}, false},
		{"active without dates", Contest{Status: StatusActive}, true},
		{"not started yet", Contest{Status: StatusActive, StartDate: &after}, false},
		{"ended", Contest{Status: StatusActive, EndDate: &before}, false},
		{"within dates", Contest{Status: StatusActive, StartDate: &before, EndDate: &after}, true},
		{"starts now", Contest{Status: StatusActive, StartDate: &now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.IsOpen(now))
		})
	}
}

func TestContest_tree(t *testing.T) {
	c := Contest{Modules: []Module{
		{ID: "m1", TimeLimitMinutes: 15, Questions: []Question{
			{ID: "q1", Points: 2, QuestionType: ModuleQCM, CorrectAnswer: "b", Explanation: "...", Options: []Option{
				{ID: "o1", OptionText: "a", OptionOrder: 1},
				{ID: "o2", OptionText: "b", IsCorrect: true, OptionOrder: 2},
			}},
			{ID: "q2", Points: 3.5},
		}},
		{ID: "m2", Questions: []Question{{ID: "q3", Points: 4.5}}},
	}}

	assert.Equal(t, float64(10), c.MaxPoints())
	assert.Equal(t, 15*time.Minute, c.Modules[0].TimeLimit())
	assert.Equal(t, time.Duration(0), c.Modules[1].TimeLimit())

	q, idx, ok := c.FindQuestion("q3")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "q3", q.ID)
	_, idx, ok = c.FindQuestion("nope")
	assert.False(t, ok)
	assert.Equal(t, -1, idx)

	q1 := c.Modules[0].Questions[0]
	opt, ok := q1.Option("o2")
	assert.True(t, ok)
	assert.True(t, opt.IsCorrect)
	_, ok = q1.Option("o3")
	assert.False(t, ok)

	pq := q1.Public()
	assert.Equal(t, "q1", pq.ID)
	assert.Equal(t, []PublicOption{{ID: "o1", OptionText: "a", OptionOrder: 1}, {ID: "o2", OptionText: "b", OptionOrder: 2}}, pq.Options)
}

func TestNewOptions(t *testing.T) {
	opts := newOptions([]NewOption{{OptionText: "a"}, {OptionText: "b", IsCorrect: true, OptionOrder: 7}, {OptionText: "c"}})
	assert.Equal(t, []Option{
		{OptionText: "a", OptionOrder: 1},
		{OptionText: "b", IsCorrect: true, OptionOrder: 7},
		{OptionText: "c", OptionOrder: 3},
	}, opts)
}

func TestNewQuestion_Validate(t *testing.T) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	options := []NewOption{{OptionText: "Prudence", IsCorrect: true}, {OptionText: "Arrêt obligatoire"}}
	qcm := &Question{QuestionType: ModuleQCM}
	open := &Question{QuestionType: ModuleOpenQuestion}

	tests := []struct {
		name    string
		nq      NewQuestion
		current *Question
		wantErr bool
	}{
		{"open question", NewQuestion{Content: "Décrivez", QuestionType: ModuleOpenQuestion}, nil, false},
		{"qcm with options", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM, Options: options}, nil, false},
		{"qcm without options", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM}, nil, true},
		{"qcm with one option", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM, Options: options[:1]}, nil, true},
		{"qcm without correct option", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM, Options: options[1:]}, nil, true},
		{"qcm update keeps options", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM}, qcm, false},
		{"qcm update with one option", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM, Options: options[:1]}, qcm, true},
		{"open question turned qcm without options", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM}, open, true},
		{"open question turned qcm with options", NewQuestion{Content: "Panneau ?", QuestionType: ModuleQCM, Options: options}, open, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nq := tt.nq
			err := nq.Validate(validate, tt.current)
			if tt.wantErr {
				assert.IsType(t, &core.ValidationError{}, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
