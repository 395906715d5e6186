package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
)

type documentApi struct {
	svc      document.ServiceInterface
	genSvc   generation.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerDocumentAPI(
	g *echo.Group,
	svc document.ServiceInterface,
	genSvc generation.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
) {
	api := documentApi{
		svc:      svc,
		genSvc:   genSvc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	dg := g.Group("/documents")
	dg.POST("", api.create, authorMiddleware())
	dg.GET("", api.query)
	dg.GET("/:id", api.retrieve)
	dg.DELETE("/:id", api.destroy)
	dg.POST("/:id/generate", api.generate, authorMiddleware())
	dg.GET("/:id/jobs", api.queryJobs)
}

func (api *documentApi) create(ctx echo.Context) error {
	var data document.NewDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDocument")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc.MaxChars()); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	doc, err := api.svc.Create(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

func (api *documentApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := &document.QueryFilter{
		Search: ctx.QueryParam("search"),
		Status: ctx.QueryParam("status"),
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	docs, err := api.svc.Query(ctx.Request().Context(), ctxUsr, filter, ordering.Orderings, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	doc, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// generate queues a generation job; the client polls `/jobs/:id` for its progress.
func (api *documentApi) generate(ctx echo.Context) error {
	var data generation.NewJob
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewJob")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	job, err := api.genSvc.Start(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "starting generation")
	}
	return ctx.JSON(http.StatusAccepted, job)
}

func (api *documentApi) queryJobs(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	jobs, err := api.genSvc.ListForDocument(ctx.Request().Context(), ctxUsr, ctx.Param("id"), bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying document jobs")
	}
	return ctx.JSON(http.StatusOK, nonNilJobs(jobs))
}

func nonNilJobs(jobs []generation.Job) []generation.Job {
	if jobs == nil {
		return []generation.Job{}
	}
	return jobs
}
