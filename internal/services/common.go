package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
)

var (
	validate = validator.New()
	tracer   = otel.Tracer("github.com/yungbote/lexicon-backend/internal/services")
)

// validateParams runs struct tags and folds every failure into one validation error.
func validateParams(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apierr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return apierr.Validation("invalid request: %s", strings.Join(msgs, "; "))
}

// inTx runs fn in a transaction, nested as a savepoint when dbc already carries one.
func inTx(db *gorm.DB, dbc dbctx.Context, fn func(inner dbctx.Context) error) error {
	base := dbc.Tx
	if base == nil {
		base = db
	}
	ctx := dbc.Context()
	return base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
