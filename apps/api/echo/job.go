package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
)

type jobApi struct {
	svc    generation.ServiceInterface
	usrSvc user.ServiceInterface
}

func registerJobAPI(g *echo.Group, svc generation.ServiceInterface, usrSvc user.ServiceInterface) {
	api := jobApi{svc: svc, usrSvc: usrSvc}

	jg := g.Group("/jobs")
	jg.GET("", api.query)
	jg.GET("/:id", api.retrieve)
	jg.POST("/:id/cancel", api.cancel)
}

// query lists the jobs of the requester, optionally filtered by `?status=` (repeatable).
func (api *jobApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	jobs, err := api.svc.ListMine(ctx.Request().Context(), ctxUsr, queryStrings(ctx, "status"), bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying jobs")
	}
	return ctx.JSON(http.StatusOK, nonNilJobs(jobs))
}

func (api *jobApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	job, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting job")
	}
	return ctx.JSON(http.StatusOK, job)
}

func (api *jobApi) cancel(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	job, err := api.svc.Cancel(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling job")
	}
	return ctx.JSON(http.StatusOK, job)
}
