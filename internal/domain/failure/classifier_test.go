package failure_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/okian/racesync/internal/domain/failure"
	"github.com/smartystreets/goconvey/convey"
)

type statusErr struct {
	status int
	body   string
}

func (e *statusErr) Error() string        { return fmt.Sprintf("status %d", e.status) }
func (e *statusErr) StatusCode() int      { return e.status }
func (e *statusErr) ResponseBody() []byte { return []byte(e.body) }

func refused() error {
	return &url.Error{Op: "Post", URL: "http://localhost:1/auth/token", Err: &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}}
}

func TestClassifierOrder(t *testing.T) {
	convey.Convey("Given the default classifier", t, func() {
		c := failure.New()

		cases := []struct {
			name     string
			err      error
			category failure.Category
			message  string
			tone     failure.Tone
		}{
			{"connection refused", refused(), failure.CategoryTransientNetwork, failure.MsgTransientNetwork, failure.ToneError},
			{"401 user not found", &statusErr{401, `{"error":"Invalid credentials - user not found"}`}, failure.CategoryCredential, failure.MsgAccountNotFound, failure.ToneError},
			{"401 wrong role", &statusErr{401, `{"error":"Invalid role for user"}`}, failure.CategoryCredential, failure.MsgWrongRole, failure.ToneError},
			{"409 duplicate registration", &statusErr{409, `{"error":"Already registered for this race"}`}, failure.CategoryConflict, "Already registered for this race", failure.ToneWarning},
			{"400 conflict text", &statusErr{400, `{"error":"Already registered"}`}, failure.CategoryConflict, "Already registered", failure.ToneWarning},
			{"400 structured text", &statusErr{400, `{"error":"Invalid distance"}`}, failure.CategoryGeneric, "Invalid distance", failure.ToneError},
			{"403 structured text", &statusErr{403, `{"message":"Admins only"}`}, failure.CategoryAuthorization, "Admins only", failure.ToneError},
			{"503 structured text", &statusErr{503, `{"detail":"Maintenance"}`}, failure.CategoryServer, "Maintenance", failure.ToneError},
			{"401 bare", &statusErr{401, ""}, failure.CategoryCredential, failure.MsgCredential, failure.ToneError},
			{"403 bare", &statusErr{403, ""}, failure.CategoryAuthorization, failure.MsgAuthorization, failure.ToneError},
			{"500 html", &statusErr{500, "<html>oops</html>"}, failure.CategoryServer, failure.MsgServer, failure.ToneError},
			{"malformed body", fmt.Errorf("decode races: %w", failure.ErrMalformedResponse), failure.CategoryGeneric, failure.MsgMalformed, failure.ToneError},
			{"unknown", errors.New("boom"), failure.CategoryGeneric, "Delete race failed.", failure.ToneError},
			{"404 bare", &statusErr{404, ""}, failure.CategoryGeneric, "Delete race failed.", failure.ToneError},
		}

		for _, tc := range cases {
			convey.Convey("When classifying "+tc.name, func() {
				got := c.ClassifyError("Delete race", tc.err)

				convey.Convey("Then category, message and tone should be stable", func() {
					convey.So(got.Category, convey.ShouldEqual, tc.category)
					convey.So(got.Message, convey.ShouldEqual, tc.message)
					convey.So(got.Tone, convey.ShouldEqual, tc.tone)
					convey.So(errors.Is(got, tc.err), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When classifying the same symptom twice", func() {
			err := &statusErr{500, `{"error":"db down"}`}
			a := c.ClassifyError("Load", err)
			b := c.ClassifyError("Load", err)

			convey.Convey("Then results should be identical", func() {
				convey.So(a, convey.ShouldResemble, b)
			})
		})

		convey.Convey("When the error is already classified", func() {
			orig := failure.Validation("Create race", errors.New("name is required"))
			convey.So(c.ClassifyError("Other", orig), convey.ShouldEqual, orig)
		})

		convey.Convey("When the op label is empty", func() {
			convey.So(c.ClassifyError("", errors.New("x")).Message, convey.ShouldEqual, "Request failed.")
		})
	})
}

func TestClassifierRuleTable(t *testing.T) {
	convey.Convey("Given the default rule table", t, func() {
		names := make([]string, 0)
		for _, r := range failure.DefaultRules() {
			names = append(names, r.Name)
		}

		convey.Convey("Then the evaluation order should be fixed", func() {
			convey.So(names, convey.ShouldResemble, []string{
				"transient_network", "account_not_found", "wrong_role", "conflict", "structured_text",
				"unauthorized", "forbidden", "server", "malformed", "fallback",
			})
		})
	})

	convey.Convey("Given a classifier with a leading custom rule", t, func() {
		c := failure.New(failure.WithLeadingRules(failure.Rule{
			Name:     "teapot",
			Match:    func(s failure.Symptom) bool { return s.Status == 418 },
			Category: failure.CategoryValidation,
			Message:  failure.Static("short and stout"),
		}))

		convey.Convey("Then it should win over the defaults", func() {
			got := c.ClassifyError("Brew", &statusErr{418, `{"error":"duplicate"}`})
			convey.So(got.Category, convey.ShouldEqual, failure.CategoryValidation)
			convey.So(got.Message, convey.ShouldEqual, "short and stout")
		})
	})

	convey.Convey("Given a classifier with a replaced table", t, func() {
		c := failure.New(failure.WithRules(failure.Rule{
			Name:     "never",
			Match:    func(failure.Symptom) bool { return false },
			Category: failure.CategoryServer,
			Message:  failure.Static("never"),
		}))

		convey.Convey("Then unmatched symptoms should use the generic fallback", func() {
			got := c.Classify(failure.Symptom{Op: "Sync"})
			convey.So(got.Category, convey.ShouldEqual, failure.CategoryGeneric)
			convey.So(got.Message, convey.ShouldEqual, "Sync failed.")
		})
	})
}

func TestExtractText(t *testing.T) {
	convey.Convey("Given response bodies", t, func() {
		convey.So(failure.ExtractText([]byte(`{"error":" Already registered "}`)), convey.ShouldEqual, "Already registered")
		convey.So(failure.ExtractText([]byte(`{"message":"m","detail":"d"}`)), convey.ShouldEqual, "m")
		convey.So(failure.ExtractText([]byte(`{"detail":"d"}`)), convey.ShouldEqual, "d")
		convey.So(failure.ExtractText([]byte(`{"error":42}`)), convey.ShouldEqual, "")
		convey.So(failure.ExtractText([]byte(`[1,2]`)), convey.ShouldEqual, "")
		convey.So(failure.ExtractText([]byte(`not json`)), convey.ShouldEqual, "")
		convey.So(failure.ExtractText(nil), convey.ShouldEqual, "")
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	convey.Convey("Given network failures", t, func() {
		convey.So(failure.IsTransient(refused()), convey.ShouldBeTrue)
		convey.So(failure.IsTransient(syscall.ECONNRESET), convey.ShouldBeTrue)
		convey.So(failure.IsTransient(&net.DNSError{Err: "no such host", Name: "api"}), convey.ShouldBeTrue)
		convey.So(failure.IsTransient(fmt.Errorf("wrapped: %w", timeoutErr{})), convey.ShouldBeTrue)
		convey.So(failure.IsTransient(context.DeadlineExceeded), convey.ShouldBeTrue)
	})

	convey.Convey("Given application failures", t, func() {
		convey.So(failure.IsTransient(nil), convey.ShouldBeFalse)
		convey.So(failure.IsTransient(context.Canceled), convey.ShouldBeFalse)
		convey.So(failure.IsTransient(&statusErr{503, ""}), convey.ShouldBeFalse)
		convey.So(failure.IsTransient(failure.ErrMalformedResponse), convey.ShouldBeFalse)
		convey.So(failure.IsTransient(errors.New(strings.Repeat("x", 3))), convey.ShouldBeFalse)
	})
}

func TestErrorHelpers(t *testing.T) {
	convey.Convey("Given helper constructors", t, func() {
		v := failure.Validation("Create race", errors.New("name is required"))
		s := failure.SignInRequired("Create race")

		convey.So(v.Category, convey.ShouldEqual, failure.CategoryValidation)
		convey.So(v.Message, convey.ShouldEqual, "name is required")
		convey.So(failure.IsCategory(fmt.Errorf("wrap: %w", v), failure.CategoryValidation), convey.ShouldBeTrue)
		convey.So(errors.Is(s, failure.ErrNoCredential), convey.ShouldBeTrue)
		convey.So(s.Error(), convey.ShouldContainSubstring, "Please sign in first.")

		_, ok := failure.As(errors.New("plain"))
		convey.So(ok, convey.ShouldBeFalse)
	})
}
