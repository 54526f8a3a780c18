package monitoring

import (
	"bytes"
	"net/http"
	"reflect"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricPrefix = "vmcore_"

func ptr[T any](v T) *T {
	return &v
}

func counterFamily(name, help string, value uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(metricPrefix + name + "_total"),
		Help: ptr(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: ptr(float64(value))}},
		},
	}
}

func gaugeFamily(name, help string, value int) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(metricPrefix + name),
		Help: ptr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: ptr(float64(value))}},
		},
	}
}

// metricFamilies turns every statistics counter into a counter family named
// after its json tag.
func (m *Monitor) metricFamilies() []*dto.MetricFamily {
	stats := m.mgr.Stats()
	v := reflect.ValueOf(stats)
	t := v.Type()

	families := make([]*dto.MetricFamily, 0, t.NumField()+4)
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		help := "Number of " + strings.ReplaceAll(name, "_", " ") + "."
		families = append(families,
			counterFamily(name, help, v.Field(i).Uint()))
	}

	families = append(families,
		gaugeFamily("frames", "Frames holding user pages.", m.mgr.Frames().Len()),
		gaugeFamily("address_spaces", "Live address spaces.",
			len(m.mgr.AddressSpaces())),
	)

	if m.pool != nil {
		families = append(families,
			gaugeFamily("pool_free_frames", "Free physical frames.",
				m.pool.NumFree()),
			gaugeFamily("pool_frames", "Physical frames in the pool.",
				m.pool.NumFrames()),
		)
	}

	return families
}

func (m *Monitor) exportMetrics(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer

	for _, f := range m.metricFamilies() {
		_, err := expfmt.MetricFamilyToText(&buf, f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	_, err := w.Write(buf.Bytes())
	dieOnErr(err)
}
