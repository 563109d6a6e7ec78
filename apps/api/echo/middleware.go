package echoapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
)

// userMiddleware requires a user token and loads the active user into the context.
func userMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			return next(ctx)
		}
	}
}

func ctxUser(ctx echo.Context) (user.User, error) {
	usr, ok := ctx.Get(contextUserKey).(user.User)
	if !ok {
		return user.User{}, errUnauthorized
	}
	return usr, nil
}

// roleMiddleware must run after userMiddleware.
func roleMiddleware(allowed func(usr user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := ctxUser(ctx)
			if err != nil {
				return err
			}
			if !allowed(usr) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.User.IsAdmin)
}

func staffMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.User.IsStaff)
}

// academyMiddleware lets admins through, as well as users holding one of the academy roles.
func academyMiddleware(roles ...string) echo.MiddlewareFunc {
	return roleMiddleware(func(usr user.User) bool {
		return usr.IsAdmin() || usr.HasAcademyRole(roles...)
	})
}

// candidateMiddleware requires a participation token.
func candidateMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := getContextCandidateID(ctx)
			if err != nil {
				return err
			}
			ctx.Set(contextCandidateKey, id)
			return next(ctx)
		}
	}
}

// objectMiddleware loads the object identified by the `param` path parameter into the context.
func objectMiddleware(param string, get func(ctx context.Context, id string) (interface{}, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			obj, err := get(ctx.Request().Context(), ctx.Param(param))
			if err != nil {
				if core.IsNotFound(err) {
					return errHttpNotFound
				}
				return errors.Wrap(err, "loading object")
			}
			ctx.Set("object", obj)
			return next(ctx)
		}
	}
}
