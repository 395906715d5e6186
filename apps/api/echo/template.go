package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core/template"
	"github.com/trezcool/somo/core/user"
)

type templateApi struct {
	svc      template.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerTemplateAPI(
	g *echo.Group,
	svc template.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
) {
	api := templateApi{svc: svc, usrSvc: usrSvc, validate: validate}

	tg := g.Group("/templates")
	tg.GET("", api.query)
	tg.GET("/:id", api.retrieve)
	tg.POST("/:id/generate", api.generate)
	tg.POST("/:id/instantiate", api.instantiate, authorMiddleware())
}

func (api *templateApi) query(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.List())
}

func (api *templateApi) retrieve(ctx echo.Context) error {
	t, err := api.svc.Get(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting template")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *templateApi) bindGenerate(ctx echo.Context) (template.Generate, error) {
	var data template.Generate
	if err := ctx.Bind(&data); err != nil {
		return data, errors.Wrap(err, "binding to Generate")
	}
	if err := data.Validate(api.validate); err != nil {
		return data, err
	}
	return data, nil
}

// generate renders the outline of a template without persisting anything.
func (api *templateApi) generate(ctx echo.Context) error {
	data, err := api.bindGenerate(ctx)
	if err != nil {
		return err
	}
	o, err := api.svc.Generate(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "generating outline")
	}
	return ctx.JSON(http.StatusOK, o)
}

// instantiate creates a draft course of the requester from the template outline.
func (api *templateApi) instantiate(ctx echo.Context) error {
	data, err := api.bindGenerate(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	c, err := api.svc.Instantiate(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "instantiating template")
	}
	return ctx.JSON(http.StatusCreated, c)
}
