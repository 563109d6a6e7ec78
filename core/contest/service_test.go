package contest_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpconcours/concours/core/contest"
	inmemdb "github.com/rpconcours/concours/storage/database/inmem"
)

var ctx = context.Background()

func setup(t *testing.T) (*contest.Service, contest.Contest) {
	svc := contest.NewService(inmemdb.NewContestRepository(inmemdb.Open()))

	agency, err := svc.CreateAgency(ctx, contest.NewAgency{Name: "LSPD", Specialties: []string{"Patrouille", "SWAT"}})
	require.NoError(t, err)
	c, err := svc.Create(ctx, contest.NewContest{Name: "Recrutement LSPD", Type: contest.TypePrivate, AgencyID: agency.ID}, "admin-1")
	require.NoError(t, err)

	for _, title := range []string{"Théorie", "Pratique", "Entretien"} {
		m, err := svc.CreateModule(ctx, c.ID, contest.NewModule{Title: title, ModuleType: contest.ModuleQCM, MaxScore: 5})
		require.NoError(t, err)
		_, err = svc.CreateQuestion(ctx, m.ID, contest.NewQuestion{
			Content:      title + " ?",
			QuestionType: contest.ModuleQCM,
			Points:       5,
			Options:      []contest.NewOption{{OptionText: "oui", IsCorrect: true}, {OptionText: "non"}},
		})
		require.NoError(t, err)
	}
	return svc, c
}

func TestService_Create(t *testing.T) {
	svc, c := setup(t)
	assert.Equal(t, contest.StatusDraft, c.Status)
	assert.True(t, strings.HasPrefix(c.AccessLink, "contest-"))
	assert.Equal(t, "admin-1", c.CreatedBy)

	pub, err := svc.Create(ctx, contest.NewContest{Name: "Portes ouvertes", Type: contest.TypePublic}, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, pub.AccessLink)

	// turning a public contest private gives it an access link
	priv, err := svc.Update(ctx, pub, contest.NewContest{Name: "Portes ouvertes", Type: contest.TypePrivate})
	require.NoError(t, err)
	assert.NotEmpty(t, priv.AccessLink)

	found, err := svc.GetByAccessLink(ctx, " "+priv.AccessLink+" ")
	require.NoError(t, err)
	assert.Equal(t, priv.ID, found.ID)
}

func TestService_SetStatus(t *testing.T) {
	svc, c := setup(t)

	_, err := svc.SetStatus(ctx, c, contest.StatusClosed)
	assert.Equal(t, contest.ErrInvalidStatus, err)

	steps := []string{contest.StatusActive, contest.StatusClosed, contest.StatusActive, contest.StatusClosed, contest.StatusArchived}
	for _, status := range steps {
		c, err = svc.SetStatus(ctx, c, status)
		require.NoError(t, err, status)
		assert.Equal(t, status, c.Status)
	}
	_, err = svc.SetStatus(ctx, c, contest.StatusActive)
	assert.Equal(t, contest.ErrInvalidStatus, err)

	// same status is a no-op
	same, err := svc.SetStatus(ctx, c, contest.StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, c.UpdatedAt, same.UpdatedAt)
}

func TestService_ReorderModules(t *testing.T) {
	svc, c := setup(t)
	modules, err := svc.QueryModules(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, modules, 3)
	for i, m := range modules {
		assert.Equal(t, i+1, m.OrderPosition)
	}
	a, b, z := modules[0].ID, modules[1].ID, modules[2].ID

	tests := []struct {
		name string
		ids  []string
	}{
		{"missing one", []string{a, b}},
		{"duplicate", []string{a, a, b}},
		{"unknown", []string{a, b, "4a4e3d3a-7c8f-4a9c-9a54-1c2f3c8a7b10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReorderModules(ctx, c.ID, tt.ids)
			assert.Equal(t, contest.ErrReorderMismatch, err)
		})
	}

	reordered, err := svc.ReorderModules(ctx, c.ID, []string{z, a, b})
	require.NoError(t, err)
	require.Len(t, reordered, 3)
	assert.Equal(t, []string{z, a, b}, []string{reordered[0].ID, reordered[1].ID, reordered[2].ID})
	for i, m := range reordered {
		assert.Equal(t, i+1, m.OrderPosition)
	}

	// new modules go after the last one
	m, err := svc.CreateModule(ctx, c.ID, contest.NewModule{Title: "Bonus", ModuleType: contest.ModuleRPScenario})
	require.NoError(t, err)
	assert.Equal(t, 4, m.OrderPosition)
	assert.True(t, m.IsRequired)
}

func TestService_Duplicate(t *testing.T) {
	svc, c := setup(t)
	src, err := svc.GetTree(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, src.Agency)

	dup, err := svc.Duplicate(ctx, c.ID, "admin-2")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Recrutement LSPD (Copie)", dup.Name)
	assert.Equal(t, contest.StatusDraft, dup.Status)
	assert.Equal(t, "admin-2", dup.CreatedBy)
	assert.Equal(t, src.AgencyID, dup.AgencyID)
	assert.NotEmpty(t, dup.AccessLink)
	assert.NotEqual(t, src.AccessLink, dup.AccessLink)
	assert.Equal(t, src.MaxPoints(), dup.MaxPoints())

	require.Len(t, dup.Modules, len(src.Modules))
	for i, m := range dup.Modules {
		sm := src.Modules[i]
		assert.NotEqual(t, sm.ID, m.ID)
		assert.Equal(t, dup.ID, m.ContestID)
		assert.Equal(t, sm.Title, m.Title)
		assert.Equal(t, sm.OrderPosition, m.OrderPosition)
		require.Len(t, m.Questions, len(sm.Questions))
		for j, q := range m.Questions {
			assert.NotEqual(t, sm.Questions[j].ID, q.ID)
			assert.Equal(t, m.ID, q.ModuleID)
			require.Len(t, q.Options, len(sm.Questions[j].Options))
			for k, o := range q.Options {
				assert.NotEqual(t, sm.Questions[j].Options[k].ID, o.ID)
				assert.Equal(t, q.ID, o.QuestionID)
				assert.Equal(t, sm.Questions[j].Options[k].IsCorrect, o.IsCorrect)
			}
		}
	}

	// editing the copy leaves the source alone
	q := dup.Modules[0].Questions[0]
	_, err = svc.UpdateQuestion(ctx, q, contest.NewQuestion{
		Content:      "Modifiée",
		QuestionType: contest.ModuleQCM,
		Points:       1,
		Options:      []contest.NewOption{{OptionText: "a"}, {OptionText: "b", IsCorrect: true}, {OptionText: "c"}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteModule(ctx, dup.Modules[2].ID))

	after, err := svc.GetTree(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, src, after)
}

func TestService_UpdateQuestion_options(t *testing.T) {
	svc, c := setup(t)
	modules, err := svc.QueryModules(ctx, c.ID)
	require.NoError(t, err)
	q := modules[0].Questions[0]
	require.Len(t, q.Options, 2)

	kept, err := svc.UpdateQuestion(ctx, q, contest.NewQuestion{Content: "Nouvelle ?", QuestionType: contest.ModuleQCM, Points: 3})
	require.NoError(t, err)
	assert.Equal(t, "Nouvelle ?", kept.Content)
	assert.Equal(t, q.Options, kept.Options)

	replaced, err := svc.UpdateQuestion(ctx, kept, contest.NewQuestion{
		Content:      "Nouvelle ?",
		QuestionType: contest.ModuleQCM,
		Points:       3,
		Options:      []contest.NewOption{{OptionText: "x", IsCorrect: true}, {OptionText: "y"}, {OptionText: "z"}},
	})
	require.NoError(t, err)
	require.Len(t, replaced.Options, 3)
	assert.Equal(t, "x", replaced.Options[0].OptionText)
	_, ok := replaced.Option(q.Options[0].ID)
	assert.False(t, ok)
}

func TestService_DeleteAgency(t *testing.T) {
	svc, c := setup(t)
	require.NoError(t, svc.DeleteAgency(ctx, c.AgencyID))

	tree, err := svc.GetTree(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, tree.Agency)

	_, err = svc.GetAgency(ctx, c.AgencyID)
	assert.Equal(t, contest.ErrAgencyNotFound, err)
}
