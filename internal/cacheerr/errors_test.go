package cacheerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	perrors "github.com/jmgilman/go/errors"
)

func TestFetchClassifiesTimeout(t *testing.T) {
	err := Fetch(context.DeadlineExceeded, "http://origin.local/index.html")
	if !IsFetch(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if perrors.GetCode(err) != perrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT code, got %s", perrors.GetCode(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wrapped cause should stay reachable via errors.Is")
	}
}

func TestCategoriesAreDisjoint(t *testing.T) {
	fetchErr := Fetch(errors.New("connection refused"), "http://origin.local/")
	storageErr := Storage(errors.New("disk full"), "put")
	manifestErr := MalformedManifest(nil, "listing is not an array")

	if IsStorage(fetchErr) || IsMalformedManifest(fetchErr) {
		t.Fatalf("fetch error misclassified")
	}
	if IsFetch(storageErr) || !IsStorage(storageErr) {
		t.Fatalf("storage error misclassified")
	}
	if !IsMalformedManifest(manifestErr) || IsFetch(manifestErr) {
		t.Fatalf("manifest error misclassified")
	}
	if !IsStorage(Quota(10, 5)) {
		t.Fatalf("quota error should count as storage error")
	}
}

func TestJoinedAndWrappedErrorsKeepCategory(t *testing.T) {
	joined := errors.Join(
		fmt.Errorf("seed /a.css: %w", Fetch(errors.New("reset"), "/a.css")),
		fmt.Errorf("seed /b.js: %w", Storage(errors.New("quota"), "put")),
	)
	if !IsFetch(joined) {
		t.Fatalf("joined error should expose fetch branch")
	}
	if !IsStorage(joined) {
		t.Fatalf("joined error should expose storage branch")
	}
	if IsFetch(nil) || IsStorage(nil) {
		t.Fatalf("nil must not be categorised")
	}
}

func TestResponseHidesCause(t *testing.T) {
	resp := Response(FetchStatus("http://origin.local/x", 503))
	if resp == nil {
		t.Fatalf("expected error response")
	}
	if resp.Code != string(perrors.CodeNetwork) {
		t.Fatalf("unexpected code %s", resp.Code)
	}
	if resp.Context["status"] != 503 {
		t.Fatalf("expected status context, got %v", resp.Context)
	}
}
