package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

var errCandNotFoundInCtx = errors.New("candidate object not found in echo.Context")

type candidateApi struct {
	svc        *candidate.Service
	validate   *validator.Validate
	translator ut.Translator
}

type InviteRequest struct {
	CandidateIDs []string `json:"candidate_ids" validate:"required,min=1,dive,uuid"`
}

func registerCandidateAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	userSvc *user.Service,
	contestSvc *contest.Service,
	svc *candidate.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := candidateApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}
	staff := []echo.MiddlewareFunc{jwt, userMiddleware(userSvc), staffMiddleware()}

	// per contest
	cg := g.Group("/contests/:id", append(staff, objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return contestSvc.Get(ctx, id)
	}))...)
	cg.GET("/candidates", api.query)
	cg.POST("/candidates", api.create)
	cg.POST("/candidates/bulk", api.createMultiple)
	cg.POST("/candidates/invite", api.invite)
	cg.GET("/statistics", api.statistics)

	dg := g.Group("/candidates/:id", append(staff, objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetByID(ctx, id)
	}))...)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/credentials", api.regenerateCredentials)
	dg.GET("/responses", api.responses)

	g.PUT("/responses/:id/evaluation", api.grade, staff...)
}

func (api *candidateApi) query(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	filter := new(candidate.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []candidate.Candidate{})
	}
	filter.Clean()
	filter.ContestID = c.ID
	ordering := new(Ordering)
	ordering.Bind(ctx)

	cands, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying candidates")
	}
	if cands == nil {
		cands = []candidate.Candidate{}
	}
	return ctx.JSON(http.StatusOK, cands)
}

func (api *candidateApi) create(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data candidate.NewCandidate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCandidate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	wc, err := api.svc.Create(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating candidate")
	}
	return ctx.JSON(http.StatusCreated, wc)
}

func (api *candidateApi) createMultiple(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data candidate.NewCandidates
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCandidates")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	wcs, err := api.svc.CreateMultiple(ctx.Request().Context(), c.ID, data.Candidates)
	if err != nil {
		return errors.Wrap(err, "creating candidates")
	}
	return ctx.JSON(http.StatusCreated, wcs)
}

func (api *candidateApi) invite(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data InviteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to InviteRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	cands, err := api.svc.SendInvitations(ctx.Request().Context(), c.ID, data.CandidateIDs)
	if err != nil {
		return errors.Wrap(err, "sending invitations")
	}
	return ctx.JSON(http.StatusOK, cands)
}

func (api *candidateApi) statistics(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	stats, err := api.svc.Statistics(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "computing statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *candidateApi) retrieve(ctx echo.Context) error {
	cand, ok := ctx.Get("object").(candidate.Candidate)
	if !ok {
		return errors.Wrap(errCandNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, cand)
}

func (api *candidateApi) update(ctx echo.Context) error {
	cand, ok := ctx.Get("object").(candidate.Candidate)
	if !ok {
		return errors.Wrap(errCandNotFoundInCtx, "retrieving object from context")
	}
	var data candidate.NewCandidate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCandidate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	cand, err := api.svc.Update(ctx.Request().Context(), cand, data)
	if err != nil {
		return errors.Wrap(err, "updating candidate")
	}
	return ctx.JSON(http.StatusOK, cand)
}

func (api *candidateApi) destroy(ctx echo.Context) error {
	cand, ok := ctx.Get("object").(candidate.Candidate)
	if !ok {
		return errors.Wrap(errCandNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), cand.ID); err != nil {
		return errors.Wrap(err, "deleting candidate")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *candidateApi) regenerateCredentials(ctx echo.Context) error {
	cand, ok := ctx.Get("object").(candidate.Candidate)
	if !ok {
		return errors.Wrap(errCandNotFoundInCtx, "retrieving object from context")
	}
	wc, err := api.svc.RegenerateCredentials(ctx.Request().Context(), cand)
	if err != nil {
		return errors.Wrap(err, "regenerating credentials")
	}
	return ctx.JSON(http.StatusOK, wc)
}

func (api *candidateApi) responses(ctx echo.Context) error {
	cand, ok := ctx.Get("object").(candidate.Candidate)
	if !ok {
		return errors.Wrap(errCandNotFoundInCtx, "retrieving object from context")
	}
	resps, err := api.svc.Responses(ctx.Request().Context(), cand.ID)
	if err != nil {
		return errors.Wrap(err, "querying responses")
	}
	if resps == nil {
		resps = []candidate.ResponseDetail{}
	}
	return ctx.JSON(http.StatusOK, resps)
}

func (api *candidateApi) grade(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data candidate.NewGrade
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.Grade(ctx.Request().Context(), ctx.Param("id"), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "grading response")
	}
	return ctx.JSON(http.StatusOK, res)
}
