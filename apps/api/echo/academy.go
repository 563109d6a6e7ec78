package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core/academy"
	"github.com/rpconcours/concours/core/user"
)

type academyApi struct {
	svc        *academy.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerAcademyAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	userSvc *user.Service,
	svc *academy.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := academyApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	manage := academyMiddleware(user.AcademyRoleStaff)
	teach := academyMiddleware(user.AcademyRoleStaff, user.AcademyRoleProf)
	member := academyMiddleware(user.AcademyRoleStaff, user.AcademyRoleProf, user.AcademyRoleEtudiant)
	study := academyMiddleware(user.AcademyRoleEtudiant)

	loader := func(get func(ctx context.Context, id string) (interface{}, error)) echo.MiddlewareFunc {
		return objectMiddleware("id", get)
	}

	ag := g.Group("/academy", jwt, userMiddleware(userSvc))

	// academies
	ag.GET("/academies", api.queryAcademies, member)
	ag.POST("/academies", api.createAcademy, manage)
	adg := ag.Group("/academies/:id", manage, loader(func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetAcademy(ctx, id)
	}))
	adg.GET("", api.retrieveAcademy)
	adg.PUT("", api.updateAcademy)
	adg.DELETE("", api.destroyAcademy)
	adg.GET("/classes", api.queryClasses)
	adg.POST("/classes", api.createClass)
	adg.GET("/modules", api.queryModules)
	adg.POST("/modules", api.createModule)
	adg.POST("/resources", api.createResource)

	// classes
	cg := ag.Group("/classes/:id", manage, loader(func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetClass(ctx, id)
	}))
	cg.GET("", api.retrieveClass)
	cg.PUT("", api.updateClass)
	cg.DELETE("", api.destroyClass)
	cg.GET("/members", api.queryMembers)
	cg.POST("/members", api.addMember)
	cg.DELETE("/members/:userID", api.removeMember)

	// modules
	mg := ag.Group("/modules/:id", manage, loader(func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetModule(ctx, id)
	}))
	mg.GET("", api.retrieveModule)
	mg.PUT("", api.updateModule)
	mg.DELETE("", api.destroyModule)
	mg.GET("/assignments", api.queryAssignments)
	mg.POST("/assignments", api.toggleAssignment)

	// resources
	ag.GET("/resources", api.queryResources, member)
	rg := ag.Group("/resources/:id", manage, loader(func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetResource(ctx, id)
	}))
	rg.GET("", api.retrieveResource)
	rg.PUT("", api.updateResource)
	rg.DELETE("", api.destroyResource)

	// evaluations & grades
	ag.GET("/evaluations", api.queryEvaluations, teach)
	ag.POST("/evaluations", api.createEvaluation, teach)
	eg := ag.Group("/evaluations/:id", teach, loader(func(ctx context.Context, id string) (interface{}, error) {
		return svc.GetEvaluation(ctx, id)
	}), api.canTeachMiddleware())
	eg.GET("", api.retrieveEvaluation)
	eg.PUT("", api.updateEvaluation)
	eg.DELETE("", api.destroyEvaluation)
	eg.GET("/grades", api.queryGrades)
	eg.PUT("/grades", api.saveGrade)

	// per role views
	ag.GET("/teacher/classes", api.teacherClasses, teach)
	ag.GET("/teacher/contests", api.teacherContests, teach)
	ag.GET("/student/classes", api.studentClasses, study)
	ag.GET("/student/modules", api.studentModules, study)
	ag.GET("/student/contests", api.studentContests, study)
	ag.GET("/student/evaluations", api.studentEvaluations, study)
}

// canTeachMiddleware restricts the evaluation in context to those who teach its class.
func (api *academyApi) canTeachMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			e, ok := ctx.Get("object").(academy.Evaluation)
			if !ok {
				return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
			}
			if err := api.checkCanTeach(ctx, e.ClassID); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func (api *academyApi) checkCanTeach(ctx echo.Context, classID string) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	ok, err := api.svc.CanTeach(ctx.Request().Context(), usr, classID)
	if err != nil {
		return errors.Wrap(err, "checking teacher")
	}
	if !ok {
		return academy.ErrNotTeacher
	}
	return nil
}

// Academies

func (api *academyApi) createAcademy(ctx echo.Context) error {
	var data academy.NewAcademy
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAcademy")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.CreateAcademy(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating academy")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *academyApi) queryAcademies(ctx echo.Context) error {
	academies, err := api.svc.QueryAcademies(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying academies")
	}
	if academies == nil {
		academies = []academy.Academy{}
	}
	return ctx.JSON(http.StatusOK, academies)
}

func (api *academyApi) retrieveAcademy(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *academyApi) updateAcademy(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	var data academy.NewAcademy
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAcademy")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.UpdateAcademy(ctx.Request().Context(), a, data)
	if err != nil {
		return errors.Wrap(err, "updating academy")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *academyApi) destroyAcademy(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	if err := api.svc.DeleteAcademy(ctx.Request().Context(), a.ID); err != nil {
		return errors.Wrap(err, "deleting academy")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Classes

func (api *academyApi) queryClasses(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	classes, err := api.svc.QueryClasses(ctx.Request().Context(), a.ID)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	return ctx.JSON(http.StatusOK, nonNilClasses(classes))
}

func (api *academyApi) createClass(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	var data academy.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.CreateClass(ctx.Request().Context(), a.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *academyApi) retrieveClass(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academyApi) updateClass(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	var data academy.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	c, err := api.svc.UpdateClass(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *academyApi) destroyClass(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	if err := api.svc.DeleteClass(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academyApi) queryMembers(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	members, err := api.svc.QueryMembers(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "querying members")
	}
	if members == nil {
		members = []academy.ClassMember{}
	}
	return ctx.JSON(http.StatusOK, members)
}

func (api *academyApi) addMember(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	var data academy.NewMember
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMember")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.AddMember(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "adding member")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *academyApi) removeMember(ctx echo.Context) error {
	c, ok := ctx.Get("object").(academy.Class)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving class from context")
	}
	if err := api.svc.RemoveMember(ctx.Request().Context(), c.ID, ctx.Param("userID")); err != nil {
		return errors.Wrap(err, "removing member")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Modules

func (api *academyApi) queryModules(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	modules, err := api.svc.QueryModules(ctx.Request().Context(), a.ID)
	if err != nil {
		return errors.Wrap(err, "querying modules")
	}
	return ctx.JSON(http.StatusOK, nonNilModules(modules))
}

func (api *academyApi) createModule(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	var data academy.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	m, err := api.svc.CreateModule(ctx.Request().Context(), a.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *academyApi) retrieveModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(academy.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *academyApi) updateModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(academy.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	var data academy.NewModule
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

func (api *academyApi) destroyModule(ctx echo.Context) error {
	m, ok := ctx.Get("object").(academy.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	if err := api.svc.DeleteModule(ctx.Request().Context(), m.ID); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academyApi) queryAssignments(ctx echo.Context) error {
	m, ok := ctx.Get("object").(academy.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	assignments, err := api.svc.QueryAssignments(ctx.Request().Context(), m.ID)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if assignments == nil {
		assignments = []academy.Assignment{}
	}
	return ctx.JSON(http.StatusOK, assignments)
}

// toggleAssignment answers 201 with the assignment when the module got assigned, 204 when it got unassigned.
func (api *academyApi) toggleAssignment(ctx echo.Context) error {
	m, ok := ctx.Get("object").(academy.Module)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
	}
	var data academy.ToggleAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ToggleAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	a, err := api.svc.ToggleAssignment(ctx.Request().Context(), m, data)
	if err != nil {
		return errors.Wrap(err, "toggling assignment")
	}
	if a == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	return ctx.JSON(http.StatusCreated, a)
}

// Resources

func (api *academyApi) createResource(ctx echo.Context) error {
	a, ok := ctx.Get("object").(academy.Academy)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving academy from context")
	}
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data academy.NewResource
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewResource")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	r, err := api.svc.CreateResource(ctx.Request().Context(), a.ID, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating resource")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *academyApi) queryResources(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var filter academy.ResourceFilter
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to ResourceFilter")
	}
	resources, err := api.svc.VisibleResources(ctx.Request().Context(), usr, filter)
	if err != nil {
		return errors.Wrap(err, "querying resources")
	}
	if resources == nil {
		resources = []academy.Resource{}
	}
	return ctx.JSON(http.StatusOK, resources)
}

func (api *academyApi) retrieveResource(ctx echo.Context) error {
	r, ok := ctx.Get("object").(academy.Resource)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving resource from context")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *academyApi) updateResource(ctx echo.Context) error {
	r, ok := ctx.Get("object").(academy.Resource)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving resource from context")
	}
	var data academy.NewResource
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewResource")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	r, err := api.svc.UpdateResource(ctx.Request().Context(), r, data)
	if err != nil {
		return errors.Wrap(err, "updating resource")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *academyApi) destroyResource(ctx echo.Context) error {
	r, ok := ctx.Get("object").(academy.Resource)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving resource from context")
	}
	if err := api.svc.DeleteResource(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting resource")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Evaluations

func (api *academyApi) queryEvaluations(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	evals, err := api.svc.QueryEvaluations(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	if evals == nil {
		evals = []academy.Evaluation{}
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *academyApi) createEvaluation(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data academy.NewEvaluation
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvaluation")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if err = api.checkCanTeach(ctx, data.ClassID); err != nil {
		return err
	}
	e, err := api.svc.CreateEvaluation(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating evaluation")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *academyApi) retrieveEvaluation(ctx echo.Context) error {
	e, ok := ctx.Get("object").(academy.Evaluation)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *academyApi) updateEvaluation(ctx echo.Context) error {
	e, ok := ctx.Get("object").(academy.Evaluation)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
	}
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data academy.NewEvaluation
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvaluation")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if data.ClassID != e.ClassID {
		if err = api.checkCanTeach(ctx, data.ClassID); err != nil {
			return err
		}
	}
	e, err = api.svc.UpdateEvaluation(ctx.Request().Context(), e, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating evaluation")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *academyApi) destroyEvaluation(ctx echo.Context) error {
	e, ok := ctx.Get("object").(academy.Evaluation)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
	}
	if err := api.svc.DeleteEvaluation(ctx.Request().Context(), e.ID); err != nil {
		return errors.Wrap(err, "deleting evaluation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *academyApi) queryGrades(ctx echo.Context) error {
	e, ok := ctx.Get("object").(academy.Evaluation)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
	}
	grades, err := api.svc.QueryGrades(ctx.Request().Context(), e.ID)
	if err != nil {
		return errors.Wrap(err, "querying grades")
	}
	if grades == nil {
		grades = []academy.Grade{}
	}
	return ctx.JSON(http.StatusOK, grades)
}

func (api *academyApi) saveGrade(ctx echo.Context) error {
	e, ok := ctx.Get("object").(academy.Evaluation)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving evaluation from context")
	}
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data academy.NewGrade
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	grade, err := api.svc.SaveGrade(ctx.Request().Context(), e, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "saving grade")
	}
	return ctx.JSON(http.StatusOK, grade)
}

// Per role views

func (api *academyApi) teacherClasses(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.TeacherClasses(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying teacher classes")
	}
	return ctx.JSON(http.StatusOK, nonNilClasses(classes))
}

func (api *academyApi) teacherContests(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	contests, err := api.svc.TeacherContests(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying teacher contests")
	}
	return ctx.JSON(http.StatusOK, contests)
}

func (api *academyApi) studentClasses(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.StudentClasses(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying student classes")
	}
	return ctx.JSON(http.StatusOK, nonNilClasses(classes))
}

func (api *academyApi) studentModules(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	modules, err := api.svc.StudentModules(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying student modules")
	}
	return ctx.JSON(http.StatusOK, nonNilModules(modules))
}

func (api *academyApi) studentContests(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	contests, err := api.svc.StudentContests(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying student contests")
	}
	return ctx.JSON(http.StatusOK, contests)
}

func (api *academyApi) studentEvaluations(ctx echo.Context) error {
	usr, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	evals, err := api.svc.StudentEvaluations(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying student evaluations")
	}
	return ctx.JSON(http.StatusOK, evals)
}

func nonNilClasses(classes []academy.Class) []academy.Class {
	if classes == nil {
		return []academy.Class{}
	}
	return classes
}

func nonNilModules(modules []academy.Module) []academy.Module {
	if modules == nil {
		return []academy.Module{}
	}
	return modules
}
