package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

type participationApi struct {
	auth       *authenticator
	svc        *candidate.Service
	contestSvc *contest.Service
	validate   *validator.Validate
	translator ut.Translator
}

// ParticipationResponse opens a participation session.
// Credentials are only set when the participant was just created.
type ParticipationResponse struct {
	Token       string                 `json:"token"`
	Credentials *candidate.Credentials `json:"credentials,omitempty"`
	State       candidate.State        `json:"state"`
}

func registerParticipationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	userSvc *user.Service,
	contestSvc *contest.Service,
	svc *candidate.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := participationApi{
		auth:       auth,
		svc:        svc,
		contestSvc: contestSvc,
		validate:   validate,
		translator: translator,
	}

	// un-authed endpoints
	g.POST("/contests/:id/login", api.login)
	g.POST("/contests/:id/join", api.join)
	g.POST("/results", api.results)

	g.POST("/contests/:id/join-as-user", api.joinAsUser, jwt, userMiddleware(userSvc))

	pg := g.Group("/participation", jwt, candidateMiddleware())
	pg.GET("", api.state)
	pg.PUT("/answers/:questionID", api.saveAnswer)
	pg.POST("/next-module", api.nextModule)
	pg.POST("/submit", api.submit)
}

func (api *participationApi) open(ctx echo.Context, cand candidate.Candidate, cred *candidate.Credentials, code int) error {
	token, err := GenerateToken(api.auth.conf, GetCandidateClaims(api.auth.conf, cand))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	st, err := api.svc.State(ctx.Request().Context(), cand.ID)
	if err != nil {
		return errors.Wrap(err, "getting participation state")
	}
	return ctx.JSON(code, ParticipationResponse{Token: token, Credentials: cred, State: st})
}

func (api *participationApi) login(ctx echo.Context) error {
	var data candidate.LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	cand, err := api.svc.Login(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "logging candidate in")
	}
	return api.open(ctx, cand, nil, http.StatusOK)
}

func (api *participationApi) join(ctx echo.Context) error {
	var data candidate.JoinRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	cand, cred, err := api.svc.JoinPublic(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "joining contest")
	}
	code := http.StatusOK
	if cred != nil {
		code = http.StatusCreated
	}
	return api.open(ctx, cand, cred, code)
}

func (api *participationApi) joinAsUser(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	cand, err := api.svc.JoinAsUser(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "joining contest")
	}
	return api.open(ctx, cand, nil, http.StatusOK)
}

func (api *participationApi) state(ctx echo.Context) error {
	id, err := getContextCandidateID(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.State(ctx.Request().Context(), id)
	if err != nil {
		if err == candidate.ErrNotFound {
			return errUnauthorized
		}
		return errors.Wrap(err, "getting participation state")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *participationApi) saveAnswer(ctx echo.Context) error {
	id, err := getContextCandidateID(ctx)
	if err != nil {
		return err
	}
	var data candidate.AnswerRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnswerRequest")
	}
	resp, err := api.svc.SaveAnswer(ctx.Request().Context(), id, ctx.Param("questionID"), data.Value)
	if err != nil {
		return errors.Wrap(err, "saving answer")
	}
	resp.IsCorrect = nil // not disclosed before correction
	return ctx.JSON(http.StatusOK, resp)
}

func (api *participationApi) nextModule(ctx echo.Context) error {
	id, err := getContextCandidateID(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.NextModule(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "moving to next module")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *participationApi) submit(ctx echo.Context) error {
	id, err := getContextCandidateID(ctx)
	if err != nil {
		return err
	}
	cand, err := api.svc.Submit(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "submitting participation")
	}
	return ctx.JSON(http.StatusOK, cand)
}

func (api *participationApi) results(ctx echo.Context) error {
	var data candidate.LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.Results(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "getting results")
	}
	return ctx.JSON(http.StatusOK, res)
}
