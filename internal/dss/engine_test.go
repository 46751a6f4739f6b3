package dss_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dataspace.app/orchestrator/internal/dss"
	"dataspace.app/orchestrator/internal/model"
)

type progressRecorder struct {
	mu       sync.Mutex
	progress []int
	statuses []model.JobStatus
}

func (r *progressRecorder) hook(jobID string, status model.JobStatus, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
	r.statuses = append(r.statuses, status)
}

func (r *progressRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []model.CallbackPayload
	urls  []string
	err   error
}

func (f *fakeNotifier) Send(ctx context.Context, callbackURL string, payload model.CallbackPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload)
	f.urls = append(f.urls, callbackURL)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		engine   *dss.Engine
		recorder *progressRecorder
		notifier *fakeNotifier
		step     time.Duration
	)

	callback := "http://dashboard_api:8000/webhooks/dss-callback/u1"

	BeforeEach(func() {
		ctx = context.Background()
		recorder = &progressRecorder{}
		notifier = &fakeNotifier{}
		step = 5 * time.Millisecond
	})

	JustBeforeEach(func() {
		engine = dss.NewEngine(
			dss.WithStepDuration(step),
			dss.WithProgressHook(recorder.hook),
			dss.WithNotifier(notifier),
		)
	})

	AfterEach(func() {
		Expect(engine.Shutdown(ctx)).To(Succeed())
	})

	Describe("Create", func() {
		It("stores a pending job with defaults applied", func() {
			job, err := engine.Create(ctx, model.JobSpec{}, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(job.ID).NotTo(BeEmpty())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.BuildingID).To(Equal(model.DefaultBuildingID))
			Expect(job.OptimizationType).To(Equal(model.DefaultOptimizationType))
		})

		It("runs the job through the fixed progress sequence", func() {
			job, err := engine.Create(ctx, model.JobSpec{BuildingID: "b1"}, &callback)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() model.JobStatus {
				got, _ := engine.Get(ctx, job.ID)
				return got.Status
			}).Should(Equal(model.JobStatusCompleted))

			Expect(recorder.snapshot()).To(Equal([]int{10, 25, 50, 75, 90, 100}))

			got, _ := engine.Get(ctx, job.ID)
			Expect(got.Progress).To(Equal(100))
			Expect(got.CompletedAt).NotTo(BeNil())
			Expect(got.Result).NotTo(BeNil())
			Expect(got.Result.OptimizationScore).To(Equal(0.85))
			Expect(got.Result.RecommendedActions).To(HaveLen(3))
		})

		It("fires one completion webhook when a callback url is given", func() {
			job, _ := engine.Create(ctx, model.JobSpec{BuildingID: "b1"}, &callback)

			Eventually(notifier.count).Should(Equal(1))
			Consistently(notifier.count, 50*time.Millisecond).Should(Equal(1))

			notifier.mu.Lock()
			defer notifier.mu.Unlock()
			Expect(notifier.urls[0]).To(Equal(callback))
			Expect(notifier.calls[0].JobID).To(Equal(job.ID))
			Expect(notifier.calls[0].Status).To(Equal("completed"))
			Expect(notifier.calls[0].Result).NotTo(BeNil())
		})

		It("does not fire a webhook without a callback url", func() {
			job, _ := engine.Create(ctx, model.JobSpec{}, nil)

			Eventually(func() model.JobStatus {
				got, _ := engine.Get(ctx, job.ID)
				return got.Status
			}).Should(Equal(model.JobStatusCompleted))
			Expect(notifier.count()).To(BeZero())
		})

		Context("when webhook delivery fails", func() {
			BeforeEach(func() {
				notifier.err = errors.New("connection refused")
			})

			It("keeps the job completed", func() {
				job, _ := engine.Create(ctx, model.JobSpec{}, &callback)

				Eventually(notifier.count).Should(Equal(1))
				got, _ := engine.Get(ctx, job.ID)
				Expect(got.Status).To(Equal(model.JobStatusCompleted))
				Expect(got.Error).To(BeNil())
			})
		})

		Context("when processing panics", func() {
			JustBeforeEach(func() {
				Expect(engine.Shutdown(ctx)).To(Succeed())
				engine = dss.NewEngine(
					dss.WithStepDuration(step),
					dss.WithNotifier(notifier),
					dss.WithProgressHook(func(jobID string, status model.JobStatus, progress int) {
						if progress == 50 {
							panic("sensor feed unavailable")
						}
					}),
				)
			})

			It("marks the job failed with the error", func() {
				job, _ := engine.Create(ctx, model.JobSpec{}, &callback)

				Eventually(func() model.JobStatus {
					got, _ := engine.Get(ctx, job.ID)
					return got.Status
				}).Should(Equal(model.JobStatusFailed))

				got, _ := engine.Get(ctx, job.ID)
				Expect(*got.Error).To(ContainSubstring("sensor feed unavailable"))
				Consistently(notifier.count, 50*time.Millisecond).Should(BeZero())
			})
		})
	})

	Describe("Get", func() {
		It("returns ErrJobNotFound for unknown ids", func() {
			_, err := engine.Get(ctx, "missing")
			Expect(errors.Is(err, dss.ErrJobNotFound)).To(BeTrue())
		})
	})

	Describe("List", func() {
		It("returns every job", func() {
			_, _ = engine.Create(ctx, model.JobSpec{BuildingID: "b1"}, nil)
			_, _ = engine.Create(ctx, model.JobSpec{BuildingID: "b2"}, nil)

			Expect(engine.List(ctx)).To(HaveLen(2))
		})
	})

	Describe("Cancel", func() {
		Context("while the job is running", func() {
			BeforeEach(func() {
				step = 50 * time.Millisecond
			})

			It("cancels it and stops progress", func() {
				job, _ := engine.Create(ctx, model.JobSpec{}, &callback)

				cancelled, err := engine.Cancel(ctx, job.ID)

				Expect(err).NotTo(HaveOccurred())
				Expect(cancelled.Status).To(Equal(model.JobStatusCancelled))
				Consistently(func() model.JobStatus {
					got, _ := engine.Get(ctx, job.ID)
					return got.Status
				}, 400*time.Millisecond).Should(Equal(model.JobStatusCancelled))
				Expect(recorder.snapshot()).NotTo(ContainElement(100))
				Expect(notifier.count()).To(BeZero())
			})

			It("rejects a second cancel", func() {
				job, _ := engine.Create(ctx, model.JobSpec{}, nil)
				_, err := engine.Cancel(ctx, job.ID)
				Expect(err).NotTo(HaveOccurred())

				_, err = engine.Cancel(ctx, job.ID)
				Expect(errors.Is(err, dss.ErrJobNotCancellable)).To(BeTrue())
			})
		})

		It("rejects cancelling a completed job", func() {
			job, _ := engine.Create(ctx, model.JobSpec{}, nil)
			Eventually(func() model.JobStatus {
				got, _ := engine.Get(ctx, job.ID)
				return got.Status
			}).Should(Equal(model.JobStatusCompleted))

			_, err := engine.Cancel(ctx, job.ID)

			Expect(errors.Is(err, dss.ErrJobNotCancellable)).To(BeTrue())
			got, _ := engine.Get(ctx, job.ID)
			Expect(got.Status).To(Equal(model.JobStatusCompleted))
		})

		It("returns ErrJobNotFound for unknown ids", func() {
			_, err := engine.Cancel(ctx, "missing")
			Expect(errors.Is(err, dss.ErrJobNotFound)).To(BeTrue())
		})
	})

	Describe("Shutdown", func() {
		BeforeEach(func() {
			step = time.Hour
		})

		It("stops background tasks and refuses new jobs", func() {
			_, _ = engine.Create(ctx, model.JobSpec{}, nil)

			shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			Expect(engine.Shutdown(shutdownCtx)).To(Succeed())

			_, err := engine.Create(ctx, model.JobSpec{}, nil)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("WebhookSender", func() {
	It("posts the callback payload as JSON", func() {
		received := make(chan model.CallbackPayload, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			var payload model.CallbackPayload
			Expect(json.NewDecoder(r.Body).Decode(&payload)).To(Succeed())
			received <- payload
		}))
		defer server.Close()

		sender := dss.NewWebhookSender(time.Second, nil)
		err := sender.Send(context.Background(), server.URL+"/webhooks/dss-callback/u1", model.CallbackPayload{
			JobID:  "j1",
			Status: "completed",
			Result: &model.OptimizationResult{OptimizationScore: 0.85},
		})

		Expect(err).NotTo(HaveOccurred())
		var payload model.CallbackPayload
		Eventually(received).Should(Receive(&payload))
		Expect(payload.JobID).To(Equal("j1"))
		Expect(payload.Result.OptimizationScore).To(Equal(0.85))
	})

	It("reports non-2xx responses", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		sender := dss.NewWebhookSender(time.Second, nil)
		err := sender.Send(context.Background(), server.URL, model.CallbackPayload{JobID: "j1", Status: "completed"})

		Expect(err).To(MatchError(ContainSubstring("500")))
	})
})
