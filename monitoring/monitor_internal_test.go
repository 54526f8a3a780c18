package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/common/expfmt"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/swap"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

var _ = Describe("Monitor", func() {
	var (
		m    *Monitor
		mgr  *vm.Manager
		pool *phys.Pool
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		m.router().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		pool = phys.NewPool(0, 4)
		mgr = vm.MakeBuilder().
			WithPhysicalAllocator(pool).
			WithTranslator(mmu.MakeBuilder().Build()).
			WithSwapDevice(swap.NewMemDevice(4)).
			Build("VM")

		as := mgr.NewAddressSpace(3)
		Expect(as.AllocatePage(vm.KindAnon, 0x1000, true)).To(Succeed())
		Expect(as.AllocatePage(vm.KindAnon, 0x2000, false)).To(Succeed())
		Expect(as.Claim(0x1000)).To(Succeed())

		m = NewMonitor()
		m.RegisterManager(mgr)
		m.RegisterPool(pool)
	})

	It("should report statistics", func() {
		rec := get("/api/stats")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp["frames"]).To(BeNumerically("==", 1))
		Expect(rsp["free_frames"]).To(BeNumerically("==", 3))
		Expect(rsp["pool_frames"]).To(BeNumerically("==", 4))
		Expect(rsp["lazy_loads"]).To(BeNumerically("==", 1))
	})

	It("should export metrics in the Prometheus text format", func() {
		rec := get("/metrics")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/plain"))

		body := rec.Body.String()
		Expect(body).To(ContainSubstring("# TYPE vmcore_lazy_loads_total counter"))
		Expect(body).To(ContainSubstring("vmcore_lazy_loads_total 1\n"))
		Expect(body).To(ContainSubstring("vmcore_evictions_total 0\n"))
		Expect(body).To(ContainSubstring("vmcore_frames 1\n"))
		Expect(body).To(ContainSubstring("vmcore_address_spaces 1\n"))
		Expect(body).To(ContainSubstring("vmcore_pool_free_frames 3\n"))

		families, err := (&expfmt.TextParser{}).
			TextToMetricFamilies(strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		Expect(families).To(HaveKey("vmcore_faults_total"))
		Expect(families["vmcore_pool_frames"].GetMetric()[0].GetGauge().GetValue()).
			To(Equal(4.0))
	})

	It("should list frames", func() {
		rec := get("/api/frames")

		var frames []vm.FrameInfo
		Expect(json.Unmarshal(rec.Body.Bytes(), &frames)).To(Succeed())
		Expect(frames).To(HaveLen(1))
		Expect(frames[0].PID).To(Equal(vm.PID(3)))
		Expect(frames[0].VAddr).To(Equal(uint64(0x1000)))
		Expect(frames[0].Kind).To(Equal("anon"))
	})

	It("should list address spaces", func() {
		rec := get("/api/spaces")

		var spaces []spaceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &spaces)).To(Succeed())
		Expect(spaces).To(Equal([]spaceRsp{{
			PID:         3,
			Pages:       2,
			Resident:    1,
			StackBottom: "0x47480000",
		}}))
	})

	It("should serialize an address space", func() {
		Expect(get("/api/space/3").Code).To(Equal(http.StatusOK))
		Expect(get("/api/space/4").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/space/abc").Code).To(Equal(http.StatusNotFound))
	})

	It("should return a field of an address space", func() {
		req := url.PathEscape(`{"pid":3,"field_name":"Pages.1.Writable"}`)
		rec := get("/api/field/" + req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("false"))

		req = url.PathEscape(`{"pid":3,"field_name":"Pages.7.Writable"}`)
		Expect(get("/api/field/" + req).Code).To(Equal(http.StatusBadRequest))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("faults", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []map[string]any
		Expect(json.Unmarshal(get("/api/progress").Body.Bytes(), &bars)).
			To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["finished"]).To(BeNumerically("==", 2))
		Expect(bars[0]["in_progress"]).To(BeNumerically("==", 1))

		m.CompleteProgressBar(bar)

		Expect(get("/api/progress").Body.String()).To(Equal("[]"))
	})

	It("should serve the page", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("vmcore monitor"))
	})

	It("should walk int fields", func() {
		s := &sampleStruct{
			field1: 1,
		}

		elem, err := m.walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk string fields", func() {
		s := &sampleStruct{
			field2: "abc",
		}

		elem, err := m.walkFields(s, "field2")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.String))
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should walk recursively", func() {
		s := &sampleStruct{
			field3: &sampleStruct{
				field1: 1,
			},
		}

		elem, err := m.walkFields(s, "field3.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk slice recursively", func() {
		s := &sampleStruct{
			field4: []sampleStruct{{
				field4: []sampleStruct{
					{field1: 1},
				},
			}, {}},
		}

		elem, err := m.walkFields(s, "field4.0.field4.0.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should reject bad slice indexes", func() {
		s := &sampleStruct{field4: []sampleStruct{{}}}

		_, err := m.walkFields(s, "field4.x")
		Expect(err).To(MatchError(fieldFormatError{}))

		_, err = m.walkFields(s, "field4.3")
		Expect(err).To(MatchError(fieldFormatError{}))
	})
})
