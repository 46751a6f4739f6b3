package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dataspace.app/orchestrator/internal/dss"
	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/router"
	"dataspace.app/orchestrator/internal/model"
)

var _ = Describe("DSSJobHandler", func() {
	var (
		engine *mockJobEngine
		r      *gin.Engine
		apiKey string
	)

	BeforeEach(func() {
		engine = &mockJobEngine{}
		apiKey = "dss-key"
	})

	JustBeforeEach(func() {
		r = gin.New()
		router.SetupDSSRoutes(r, handler.NewDSSJobHandler(engine, nil), router.DSSRouterConfig{APIKey: apiKey})
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader *bytes.Buffer
		if body != "" {
			reader = bytes.NewBufferString(body)
		} else {
			reader = &bytes.Buffer{}
		}
		req := httptest.NewRequest(method, path, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	Describe("Create", func() {
		It("passes the job spec and callback url to the engine", func() {
			var (
				gotSpec     model.JobSpec
				gotCallback *string
			)
			engine.createFn = func(_ context.Context, spec model.JobSpec, callbackURL *string) (model.JobRecord, error) {
				gotSpec, gotCallback = spec, callbackURL
				return model.JobRecord{ID: "j1", Status: model.JobStatusPending, BuildingID: spec.BuildingID, OptimizationType: spec.OptimizationType, CreatedAt: time.Now()}, nil
			}

			w := do(http.MethodPost, "/f1/jobs?callback_url=http://dash/webhooks/dss-callback/u1", `{"building_id":"b1"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["job_id"]).To(Equal("j1"))
			Expect(resp["status"]).To(Equal("pending"))

			Expect(gotSpec.BuildingID).To(Equal("b1"))
			Expect(gotSpec.OptimizationType).To(Equal(model.DefaultOptimizationType))
			Expect(gotCallback).NotTo(BeNil())
			Expect(*gotCallback).To(Equal("http://dash/webhooks/dss-callback/u1"))
		})

		It("accepts an empty body", func() {
			engine.createFn = func(_ context.Context, spec model.JobSpec, callbackURL *string) (model.JobRecord, error) {
				Expect(spec.BuildingID).To(Equal(model.DefaultBuildingID))
				Expect(callbackURL).To(BeNil())
				return model.JobRecord{ID: "j2", Status: model.JobStatusPending}, nil
			}

			Expect(do(http.MethodPost, "/f1/jobs", "").Code).To(Equal(http.StatusOK))
		})
	})

	Describe("authentication", func() {
		It("rejects a wrong key", func() {
			req := httptest.NewRequest(http.MethodGet, "/f1/jobs", nil)
			req.Header.Set("X-API-Key", "nope")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("leaves health open", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		Context("without a configured key", func() {
			BeforeEach(func() { apiKey = "" })

			It("allows unauthenticated calls", func() {
				Expect(do(http.MethodGet, "/f1/jobs", "").Code).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("Get", func() {
		It("returns status and progress", func() {
			engine.getFn = func(_ context.Context, id string) (model.JobRecord, error) {
				return model.JobRecord{ID: id, Status: model.JobStatusRunning, Progress: 50}, nil
			}

			w := do(http.MethodGet, "/f1/jobs/j1", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["progress"]).To(BeEquivalentTo(50))
			Expect(resp["status"]).To(Equal("running"))
		})

		It("returns 404 for an unknown job", func() {
			engine.getFn = func(_ context.Context, id string) (model.JobRecord, error) {
				return model.JobRecord{}, fmt.Errorf("%w: %s", dss.ErrJobNotFound, id)
			}

			Expect(do(http.MethodGet, "/f1/jobs/nope", "").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Cancel", func() {
		It("cancels a running job", func() {
			engine.cancelFn = func(_ context.Context, id string) (model.JobRecord, error) {
				return model.JobRecord{ID: id, Status: model.JobStatusCancelled}, nil
			}

			w := do(http.MethodDelete, "/f1/jobs/j1", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"message":"Job j1 cancelled"}`))
		})

		It("returns 400 for a completed job", func() {
			engine.cancelFn = func(context.Context, string) (model.JobRecord, error) {
				return model.JobRecord{}, dss.ErrJobNotCancellable
			}

			Expect(do(http.MethodDelete, "/f1/jobs/j1", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown job", func() {
			engine.cancelFn = func(context.Context, string) (model.JobRecord, error) {
				return model.JobRecord{}, dss.ErrJobNotFound
			}

			Expect(do(http.MethodDelete, "/f1/jobs/j1", "").Code).To(Equal(http.StatusNotFound))
		})
	})

	It("drives a real engine end to end", func() {
		live := dss.NewEngine(dss.WithStepDuration(time.Millisecond))
		DeferCleanup(func() { _ = live.Shutdown(context.Background()) })
		r = gin.New()
		router.SetupDSSRoutes(r, handler.NewDSSJobHandler(live, nil), router.DSSRouterConfig{})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/f1/jobs", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		var created map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &created)).To(Succeed())
		jobID := created["job_id"].(string)

		Eventually(func() string {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/f1/jobs/"+jobID, nil))
			var status map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &status)
			s, _ := status["status"].(string)
			return s
		}).Should(Equal("completed"))

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/f1/jobs/"+jobID, nil))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
