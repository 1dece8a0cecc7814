package gcs

import (
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/store"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
		notFound  bool
	}{
		{"object missing", storage.ErrObjectNotExist, true, true},
		{"bucket missing", storage.ErrBucketNotExist, true, true},
		{"api 404", &googleapi.Error{Code: 404, Message: "Not Found"}, true, true},
		{"api 429", &googleapi.Error{Code: 429, Message: "Too Many Requests"}, false, false},
		{"api 503", &googleapi.Error{Code: 503, Message: "Backend Error"}, false, false},
		{"api 403", &googleapi.Error{Code: 403, Message: "Forbidden"}, true, false},
		{"api 412", &googleapi.Error{Code: 412, Message: "Precondition Failed"}, true, false},
		{"plain network", errors.New("read: connection reset by peer"), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("store.get", "inv-input", "landing/x.tiff", tc.err)
			if fault.IsPermanent(got) != tc.permanent {
				t.Errorf("permanent = %v, want %v (%v)", fault.IsPermanent(got), tc.permanent, got)
			}
			if errors.Is(got, store.ErrNotFound) != tc.notFound {
				t.Errorf("notFound = %v, want %v (%v)", errors.Is(got, store.ErrNotFound), tc.notFound, got)
			}
		})
	}
}

func TestURI(t *testing.T) {
	if got := uri("inv-extracted", "extracted/rappi/RP-1.json"); got != "gs://inv-extracted/extracted/rappi/RP-1.json" {
		t.Errorf("uri = %q", got)
	}
}
