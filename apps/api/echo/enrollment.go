package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/user"
)

type enrollmentApi struct {
	svc      enrollment.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerEnrollmentAPI(
	g *echo.Group,
	svc enrollment.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
) {
	api := enrollmentApi{svc: svc, usrSvc: usrSvc, validate: validate}

	eg := g.Group("/enrollments")
	eg.GET("", api.query)
	eg.GET("/:id", api.retrieve)
	eg.DELETE("/:id", api.destroy)
	eg.POST("/:id/lessons/:lessonID/complete", api.completeLesson)
	eg.GET("/:id/attempts", api.queryAttempts)
	eg.POST("/:id/quizzes/:quizID", api.submitQuiz)
}

func (api *enrollmentApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	status := core.CleanString(ctx.QueryParam("status"), true /* lower */)

	enrollments, err := api.svc.ListMine(ctx.Request().Context(), ctxUsr, status, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	e, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting enrollment")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *enrollmentApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.Unenroll(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "unenrolling")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollmentApi) completeLesson(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	e, err := api.svc.CompleteLesson(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("lessonID"))
	if err != nil {
		return errors.Wrap(err, "completing lesson")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *enrollmentApi) submitQuiz(ctx echo.Context) error {
	var data enrollment.SubmitQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitQuiz")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	res, err := api.svc.SubmitQuiz(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("quizID"), data)
	if err != nil {
		return errors.Wrap(err, "submitting quiz")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *enrollmentApi) queryAttempts(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	attempts, err := api.svc.QuizAttempts(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying quiz attempts")
	}
	if attempts == nil {
		attempts = []enrollment.QuizAttempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}
