package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core/contest"
	"github.com/rpconcours/concours/core/user"
)

var errCtstNotFoundInCtx = errors.New("contest object not found in echo.Context")

type contestApi struct {
	svc        *contest.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerContestAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	userSvc *user.Service,
	svc *contest.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := contestApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}
	staff := []echo.MiddlewareFunc{jwt, userMiddleware(userSvc), staffMiddleware()}

	// agencies
	ag := g.Group("/agencies", staff...)
	ag.POST("", api.createAgency)
	ag.GET("", api.queryAgencies)
	agd := ag.Group("/:id", objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetAgency(ctx, id)
	}))
	agd.GET("", api.retrieveAgency)
	agd.PUT("", api.updateAgency)
	agd.DELETE("", api.destroyAgency)

	cg := g.Group("/contests")

	// un-authed endpoints
	cg.GET("/public", api.queryPublic)
	cg.GET("/:id/public", api.retrievePublic)
	cg.GET("/access/:link", api.retrieveByAccessLink)

	// staff endpoints
	sg := cg.Group("", staff...)
	sg.POST("", api.create)
	sg.GET("", api.query)

	dg := sg.Group("/:id", objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return svc.Get(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/duplicate", api.duplicate)
	dg.PUT("/status", api.setStatus)
	dg.GET("/modules", api.queryModules)
	dg.POST("/modules", api.createModule)
	dg.PUT("/modules/order", api.reorderModules)

	mg := g.Group("/modules/:id", append(staff, objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetModule(ctx, id)
	}))...)
	mg.GET("", api.retrieveModule)
	mg.PUT("", api.updateModule)
	mg.DELETE("", api.destroyModule)
	mg.GET("/questions", api.queryQuestions)
	mg.POST("/questions", api.createQuestion)

	qg := g.Group("/questions/:id", append(staff, objectMiddleware("id", func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetQuestion(ctx, id)
	}))...)
	qg.GET("", api.retrieveQuestion)
	qg.PUT("", api.updateQuestion)
	qg.DELETE("", api.destroyQuestion)
}

type (
	// PublicModule is a contest module as announced before participation.
	PublicModule struct {
		ID               string  `json:"id"`
		Title            string  `json:"title"`
		ModuleType       string  `json:"module_type"`
		Description      string  `json:"description,omitempty"`
		MaxScore         float64 `json:"max_score"`
		TimeLimitMinutes int     `json:"time_limit_minutes,omitempty"`
		QuestionCount    int     `json:"question_count"`
	}

	PublicContest struct {
		contest.Contest
		Modules []PublicModule `json:"modules"`
	}
)

func publicContest(c contest.Contest) PublicContest {
	pc := PublicContest{Contest: c, Modules: make([]PublicModule, 0, len(c.Modules))}
	pc.Contest.Modules = nil
	pc.Contest.CreatedBy = ""
	for _, m := range c.Modules {
		pc.Modules = append(pc.Modules, PublicModule{
			ID:               m.ID,
			Title:            m.Title,
			ModuleType:       m.ModuleType,
			Description:      m.Description,
			MaxScore:         m.MaxScore,
			TimeLimitMinutes: m.TimeLimitMinutes,
			QuestionCount:    len(m.Questions),
		})
	}
	return pc
}

// Agencies

func (api *contestApi) createAgency(ctx echo.Context) error {
	var data contest.NewAgency
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAgency")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	agency, err := api.svc.CreateAgency(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating agency")
	}
	return ctx.JSON(http.StatusCreated, agency)
}

func (api *contestApi) queryAgencies(ctx echo.Context) error {
	agencies, err := api.svc.QueryAgencies(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying agencies")
	}
	if agencies == nil {
		agencies = []contest.Agency{}
	}
	return ctx.JSON(http.StatusOK, agencies)
}

func (api *contestApi) retrieveAgency(ctx echo.Context) error {
	agency, ok := ctx.Get("object").(contest.Agency)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving agency from context")
	}
	return ctx.JSON(http.StatusOK, agency)
}

func (api *contestApi) updateAgency(ctx echo.Context) error {
	agency, ok := ctx.Get("object").(contest.Agency)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving agency from context")
	}
	var data contest.NewAgency
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAgency")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	agency, err := api.svc.UpdateAgency(ctx.Request().Context(), agency, data)
	if err != nil {
		return errors.Wrap(err, "updating agency")
	}
	return ctx.JSON(http.StatusOK, agency)
}

func (api *contestApi) destroyAgency(ctx echo.Context) error {
	agency, ok := ctx.Get("object").(contest.Agency)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving agency from context")
	}
	if err := api.svc.DeleteAgency(ctx.Request().Context(), agency.ID); err != nil {
		return errors.Wrap(err, "deleting agency")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Contests

func (api *contestApi) queryPublic(ctx echo.Context) error {
	contests, err := api.svc.QueryPublic(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying public contests")
	}
	if contests == nil {
		contests = []contest.Contest{}
	}
	return ctx.JSON(http.StatusOK, contests)
}

func (api *contestApi) retrievePublic(ctx echo.Context) error {
	c, err := api.svc.GetTree(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if err == contest.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting contest")
	}
	if c.Type != contest.TypePublic || c.Status != contest.StatusActive {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, publicContest(c))
}

func (api *contestApi) retrieveByAccessLink(ctx echo.Context) error {
	c, err := api.svc.GetByAccessLink(ctx.Request().Context(), ctx.Param("link"))
	if err != nil {
		if err == contest.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting contest by access link")
	}
	if c.Status != contest.StatusActive {
		return errHttpNotFound
	}
	if c, err = api.svc.GetTree(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "getting contest")
	}
	return ctx.JSON(http.StatusOK, publicContest(c))
}

func (api *contestApi) create(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data contest.NewContest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewContest")
	}
	if err = data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}
	c, err := api.svc.Create(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "creating contest")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *contestApi) query(ctx echo.Context) error {
	filter := new(contest.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []contest.Contest{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	contests, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying contests")
	}
	if contests == nil {
		contests = []contest.Contest{}
	}
	return ctx.JSON(http.StatusOK, contests)
}

func (api *contestApi) retrieve(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	c, err := api.svc.GetTree(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "getting contest tree")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *contestApi) update(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data contest.NewContest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewContest")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}
	c, err := api.svc.Update(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "updating contest")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *contestApi) destroy(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting contest")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *contestApi) duplicate(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	dup, err := api.svc.Duplicate(ctx.Request().Context(), c.ID, usr.ID)
	if err != nil {
		return errors.Wrap(err, "duplicating contest")
	}
	return ctx.JSON(http.StatusCreated, dup)
}

func (api *contestApi) setStatus(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data contest.SetStatus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetStatus")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	c, err := api.svc.SetStatus(ctx.Request().Context(), c, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting contest status")
	}
	return ctx.JSON(http.StatusOK, c)
}

// Modules

func (api *contestApi) queryModules(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	modules, err := api.svc.QueryModules(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "querying modules")
	}
	if modules == nil {
		modules = []contest.Module{}
	}
	return ctx.JSON(http.StatusOK, modules)
}

func (api *contestApi) createModule(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data contest.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.CreateModule(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *contestApi) reorderModules(ctx echo.Context) error {
	c, ok := ctx.Get("object").(contest.Contest)
	if !ok {
		return errors.Wrap(errCtstNotFoundInCtx, "retrieving object from context")
	}
	var data contest.ReorderModules
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderModules")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	modules, err := api.svc.ReorderModules(ctx.Request().Context(), c.ID, data.ModuleIDs)
	if err != nil {
		return errors.Wrap(err, "reordering modules")
	}
	return ctx.JSON(http.StatusOK, modules)
}

func (api *contestApi) retrieveModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(contest.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *contestApi) updateModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(contest.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	var data contest.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.UpdateModule(ctx.Request().Context(), m, data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *contestApi) destroyModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(contest.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	if err := api.svc.DeleteModule(ctx.Request().Context(), m.ID); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Questions

func (api *contestApi) queryQuestions(ctx echo.Context) error {
	m, ok := ctx.Get("object").(contest.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	questions, err := api.svc.QueryQuestions(ctx.Request().Context(), m.ID)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if questions == nil {
		questions = []contest.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *contestApi) createQuestion(ctx echo.Context) error {
	m, ok := ctx.Get("object").(contest.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	var data contest.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.validate, nil); err != nil {
		return err
	}
	q, err := api.svc.CreateQuestion(ctx.Request().Context(), m.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *contestApi) retrieveQuestion(ctx echo.Context) error {
	q, ok := ctx.Get("object").(contest.Question)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving question from context")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *contestApi) updateQuestion(ctx echo.Context) error {
	q, ok := ctx.Get("object").(contest.Question)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving question from context")
	}
	var data contest.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.validate, &q); err != nil {
		return err
	}
	q, err := api.svc.UpdateQuestion(ctx.Request().Context(), q, data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *contestApi) destroyQuestion(ctx echo.Context) error {
	q, ok := ctx.Get("object").(contest.Question)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving question from context")
	}
	if err := api.svc.DeleteQuestion(ctx.Request().Context(), q.ID); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}
