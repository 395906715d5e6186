package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/user"
)

func registerAnalyticsAPI(g *echo.Group, svc enrollment.ServiceInterface, usrSvc user.ServiceInterface) {
	g.GET("/analytics/dashboard", func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		dash, err := svc.CreatorDashboard(ctx.Request().Context(), ctxUsr)
		if err != nil {
			return errors.Wrap(err, "building dashboard")
		}
		return ctx.JSON(http.StatusOK, dash)
	}, authorMiddleware())
}
