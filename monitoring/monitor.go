// Package monitoring turns a running memory manager into a web server that
// shows its frames, address spaces and counters.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vmcore/instrumentation/idgen"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/monitoring/web"
)

// PoolStatus reports how much of the physical pool is still free.
type PoolStatus interface {
	NumFree() int
	NumFrames() int
}

// Monitor serves the state of a memory manager over HTTP.
type Monitor struct {
	mgr        *vm.Manager
	pool       PoolStatus
	portNumber int
	idGen      idgen.Generator
	listener   net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGen: idgen.NewParallel(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterManager registers the memory manager to watch.
func (m *Monitor) RegisterManager(mgr *vm.Manager) {
	m.mgr = mgr
}

// RegisterPool registers the physical pool that the manager draws from.
func (m *Monitor) RegisterPool(pool PoolStatus) {
	m.pool = pool
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:        m.idGen.Generate(),
		name:      name,
		startTime: time.Now(),
		total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.listStats)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/spaces", m.listSpaces)
	r.HandleFunc("/api/space/{pid}", m.listSpaceDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/metrics", m.exportMetrics)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server with a custom port if wanted.
// It returns the URL the monitor listens on.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring memory manager with %s\n", url)

	r := m.router()

	go func() {
		err := http.Serve(listener, r)
		if err != nil && !isClosedErr(err) {
			dieOnErr(err)
		}
	}()

	return url
}

// StopServer closes the listener of the server.
func (m *Monitor) StopServer() error {
	if m.listener == nil {
		return nil
	}

	return m.listener.Close()
}

// OpenInBrowser opens the monitoring page in the default browser.
func (m *Monitor) OpenInBrowser(url string) error {
	return browser.OpenURL(url)
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

type statsRsp struct {
	vm.Stats
	Frames     int `json:"frames"`
	FreeFrames int `json:"free_frames"`
	PoolFrames int `json:"pool_frames"`
}

func (m *Monitor) listStats(w http.ResponseWriter, _ *http.Request) {
	rsp := statsRsp{
		Stats:  m.mgr.Stats(),
		Frames: m.mgr.Frames().Len(),
	}

	if m.pool != nil {
		rsp.FreeFrames = m.pool.NumFree()
		rsp.PoolFrames = m.pool.NumFrames()
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.mgr.Frames().Snapshot())
}

type spaceRsp struct {
	PID         vm.PID `json:"pid"`
	Pages       int    `json:"pages"`
	Resident    int    `json:"resident"`
	Swapped     int    `json:"swapped"`
	StackBottom string `json:"stack_bottom"`
}

func (m *Monitor) listSpaces(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]spaceRsp, 0)

	for _, as := range m.mgr.AddressSpaces() {
		info := as.Info()
		s := spaceRsp{
			PID:         info.PID,
			Pages:       len(info.Pages),
			StackBottom: fmt.Sprintf("0x%x", info.StackBottom),
		}

		for _, p := range info.Pages {
			if p.Resident {
				s.Resident++
			}

			if p.Swapped {
				s.Swapped++
			}
		}

		rsp = append(rsp, s)
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listSpaceDetails(w http.ResponseWriter, r *http.Request) {
	as := m.findSpaceOr404(w, mux.Vars(r)["pid"])
	if as == nil {
		return
	}

	info := as.Info()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&info)
	serializer.SetMaxDepth(3)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	PID       int    `json:"pid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	as := m.findSpaceOr404(w, strconv.Itoa(req.PID))
	if as == nil {
		return
	}

	info := as.Info()

	elem, err := m.walkFields(&info, req.FieldName)
	if err != nil || !elem.IsValid() {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: cannot find field %s", req.FieldName)

		return
	}

	m.writeJSON(w, elem.Interface())
}

type fieldFormatError struct {
}

func (e fieldFormatError) Error() string {
	return "fieldFormatError"
}

func (m *Monitor) walkFields(
	root any,
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) findSpaceOr404(
	w http.ResponseWriter,
	pidStr string,
) *vm.AddressSpace {
	pid, err := strconv.ParseUint(pidStr, 10, 32)
	if err == nil {
		as, found := m.mgr.Space(vm.PID(pid))
		if found {
			return as
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err = w.Write([]byte("Address space not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	infos := make([]ProgressInfo, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		infos = append(infos, b.Info())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, infos)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	m.writeJSON(w, prof)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
