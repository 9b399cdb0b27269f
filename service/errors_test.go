package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestPermanent(t *testing.T) {
	err := fmt.Errorf("Permanent error")
	if Temporary(err) {
		t.Fail()
	}
	err = &url.Error{Err: err}
	if Temporary(err) {
		t.Fail()
	}
}

func TestTemporary(t *testing.T) {
	err := MakeTemporary(fmt.Errorf("Temporary error"))
	if !Temporary(err) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", err)
	if !Temporary(err) {
		t.Fail()
	}
	if !Temporary(context.Canceled) {
		t.Fail()
	}
	if !Temporary(context.DeadlineExceeded) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", &url.Error{Err: err})
	if !Temporary(err) {
		t.Fail()
	}
}

func TestFatal(t *testing.T) {
	if Fatal(fmt.Errorf("plain error")) {
		t.Fail()
	}
	err := MakeFatal(fmt.Errorf("fatal error"))
	if !Fatal(err) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", err)
	if !Fatal(err) {
		t.Fail()
	}
}

func TestTemporaryGoogleapi(t *testing.T) {
	for code, temporary := range map[int]bool{429: true, 500: true, 503: true, 403: false, 404: false} {
		err := fmt.Errorf("Warp: %w", &googleapi.Error{Code: code})
		if Temporary(err) != temporary {
			t.Errorf("googleapi %d: Temporary=%v", code, Temporary(err))
		}
	}
}

func TestClassifyHTTP(t *testing.T) {
	err := fmt.Errorf("rejected")
	if !Fatal(ClassifyHTTP(400, err)) || Temporary(ClassifyHTTP(400, err)) {
		t.Errorf("4xx must be fatal")
	}
	if !Temporary(ClassifyHTTP(503, err)) || Fatal(ClassifyHTTP(503, err)) {
		t.Errorf("5xx must be temporary")
	}
	if marked := ClassifyHTTP(302, err); Fatal(marked) || Temporary(marked) {
		t.Errorf("other statuses must stay unmarked")
	}
}

func TestMergeErrors(t *testing.T) {
	if MergeErrors(true, nil, nil) != nil {
		t.Fail()
	}
	err := MergeErrors(true, nil, fmt.Errorf("first"), fmt.Errorf("second"))
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"first", "second"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%q not reported in %q", want, err.Error())
		}
	}
}
