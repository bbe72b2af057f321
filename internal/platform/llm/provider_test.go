package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want apierr.Kind
	}{
		{statusErr(http.StatusTooManyRequests), apierr.KindTransientProvider},
		{statusErr(http.StatusBadGateway), apierr.KindTransientProvider},
		{statusErr(http.StatusBadRequest), apierr.KindPermanentProvider},
		{context.DeadlineExceeded, apierr.KindTransientProvider},
		{errors.New("schema rejected"), apierr.KindPermanentProvider},
		{apierr.TransientProvider(errors.New("x")), apierr.KindTransientProvider},
	}
	for _, tc := range cases {
		if got := apierr.KindOf(Classify(tc.err)); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.want, got)
		}
	}
	if Classify(nil) != nil {
		t.Fatalf("nil stays nil")
	}
}
