package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")

	errObjNotFoundInCtx = errors.New("object not found in echo.Context")
)

// errorResponse maps a known error to its status code & body.
// ok is false for server errors.
func errorResponse(err error, translator ut.Translator) (code int, body interface{}, ok bool) {
	switch e := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if e == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, e.Message, true
		}
		if herr, isHTTP := e.Internal.(*echo.HTTPError); isHTTP {
			e = herr
		}
		return e.Code, e.Message, true
	case validator.ValidationErrors:
		flds := make(map[string]string, len(e))
		for _, fe := range e {
			flds[fe.Field()] = fe.Translate(translator)
		}
		return http.StatusBadRequest, flds, true
	case *core.ValidationError:
		if len(e.Fields) == 0 {
			return http.StatusBadRequest, e.Error(), true
		}
		flds := make(map[string]string, len(e.Fields))
		for _, fe := range e.Fields {
			flds[fe.Field] = fe.Error
		}
		return http.StatusBadRequest, flds, true
	case *core.NotFoundError:
		return http.StatusNotFound, e.Error(), true
	case *core.ConflictError:
		return http.StatusConflict, e.Error(), true
	case *core.PermissionError:
		return http.StatusForbidden, e.Error(), true
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), false
}

// requester returns whoever made the request, for error reports.
func requester(ctx echo.Context) interface{} {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return nil
	}
	if claims.Kind == KindCandidate {
		return candidate.Candidate{ID: claims.Subject, ContestID: claims.ContestID}
	}
	return user.User{ID: claims.Subject, Username: claims.Username, Email: claims.Email}
}

// newAppHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how to handle our errors.
// Server errors are reported; a core.shutdown error also triggers signalShutdown.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, body, ok := errorResponse(err, translator)
		if !ok {
			msg := body.(string)
			args := []interface{}{errors.Wrap(err, msg), map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			}}
			if who := requester(ctx); who != nil {
				args = append(args, who)
			}
			logger.Error(msg, args...)

			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				body = err.Error()
			}
		}
		if m, isStr := body.(string); isStr {
			body = echo.Map{"error": m}
		}

		if ctx.Response().Committed {
			return
		}
		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, body)
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}
