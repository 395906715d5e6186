package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/user"
)

type courseApi struct {
	svc       course.ServiceInterface
	enrollSvc enrollment.ServiceInterface
	usrSvc    user.ServiceInterface
	validate  *validator.Validate
}

func registerCourseAPI(
	g *echo.Group,
	svc course.ServiceInterface,
	enrollSvc enrollment.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
) {
	api := courseApi{
		svc:       svc,
		enrollSvc: enrollSvc,
		usrSvc:    usrSvc,
		validate:  validate,
	}

	cg := g.Group("/courses")
	cg.GET("", api.catalog)
	cg.GET("/mine", api.queryMine, authorMiddleware())
	cg.POST("", api.create, authorMiddleware())
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/enroll", api.enroll)

	// authoring endpoints; ownership is checked by the service
	author := authorMiddleware()
	cg.PUT("/:id", api.update, author)
	cg.DELETE("/:id", api.destroy, author)
	cg.POST("/:id/publish", api.publish, author)
	cg.POST("/:id/unpublish", api.unpublish, author)
	cg.GET("/:id/stats", api.stats, author)
	cg.POST("/:id/modules", api.addModule, author)
	cg.PUT("/:id/modules/:moduleID", api.updateModule, author)
	cg.DELETE("/:id/modules/:moduleID", api.destroyModule, author)
	cg.POST("/:id/modules/:moduleID/lessons", api.addLesson, author)
	cg.PUT("/:id/lessons/:lessonID", api.updateLesson, author)
	cg.DELETE("/:id/lessons/:lessonID", api.destroyLesson, author)
}

func bindCourseFilter(ctx echo.Context) (*course.QueryFilter, []core.DBOrdering) {
	filter := &course.QueryFilter{
		Search:     ctx.QueryParam("search"),
		Difficulty: ctx.QueryParam("difficulty"),
		Tag:        ctx.QueryParam("tag"),
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)
	return filter, ordering.Orderings
}

// catalog lists the published courses.
func (api *courseApi) catalog(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter, ordering := bindCourseFilter(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), ctxUsr, filter, ordering, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return ctx.JSON(http.StatusOK, nonNilCourses(courses))
}

func (api *courseApi) queryMine(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter, ordering := bindCourseFilter(ctx)
	filter.Published = queryBool(ctx, "published")

	courses, err := api.svc.QueryMine(ctx.Request().Context(), ctxUsr, filter, ordering, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying own courses")
	}
	return ctx.JSON(http.StatusOK, nonNilCourses(courses))
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Create(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Update(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) publish(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Publish(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) unpublish(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Unpublish(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "unpublishing course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) stats(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	stats, err := api.enrollSvc.CourseStats(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing course stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	e, err := api.enrollSvc.Enroll(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, e)
}

// Modules

func (api *courseApi) addModule(ctx echo.Context) error {
	var data course.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	m, err := api.svc.AddModule(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *courseApi) updateModule(ctx echo.Context) error {
	var data course.UpdateModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	m, err := api.svc.UpdateModule(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("moduleID"), data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *courseApi) destroyModule(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.DeleteModule(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("moduleID")); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Lessons

func (api *courseApi) addLesson(ctx echo.Context) error {
	var data course.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	l, err := api.svc.AddLesson(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("moduleID"), data)
	if err != nil {
		return errors.Wrap(err, "adding lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *courseApi) updateLesson(ctx echo.Context) error {
	var data course.UpdateLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	l, err := api.svc.UpdateLesson(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("lessonID"), data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *courseApi) destroyLesson(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.DeleteLesson(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("lessonID")); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func nonNilCourses(courses []course.Course) []course.Course {
	if courses == nil {
		return []course.Course{}
	}
	return courses
}
