package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/somo/core"
)

const (
	orderingParam = "ordering"
	pageParam     = "page"
	pageSizeParam = "page_size"
)

// Ordering binds `?ordering=field,-other` (a leading "-" sorts descending).
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPage binds `?page=&page_size=`; invalid values fall back to the defaults.
func bindPage(ctx echo.Context) core.Page {
	number, _ := strconv.Atoi(ctx.QueryParam(pageParam))
	size, _ := strconv.Atoi(ctx.QueryParam(pageSizeParam))
	return core.NewPage(number, size)
}

func queryBool(ctx echo.Context, name string) *bool {
	b, err := strconv.ParseBool(ctx.QueryParam(name))
	if err != nil {
		return nil
	}
	return &b
}

func queryTime(ctx echo.Context, name string) time.Time {
	t, err := time.Parse(time.RFC3339, ctx.QueryParam(name))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func queryStrings(ctx echo.Context, name string) []string {
	values, ok := ctx.QueryParams()[name]
	if !ok {
		return nil
	}
	return values
}
