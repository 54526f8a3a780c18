package datarecording

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseOptions locates a ClickHouse server.
type ClickHouseOptions struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	BatchSize   int
	DialTimeout time.Duration
}

type clickHouseTable struct {
	structType reflect.Type
	rows       [][]any
}

// clickHouseWriter records into a ClickHouse server with one batch insert
// per table on each flush.
type clickHouseWriter struct {
	conn clickhouse.Conn

	mu         sync.Mutex
	tables     map[string]*clickHouseTable
	batchSize  int
	entryCount int
	closed     bool
}

// NewClickHouse connects to a ClickHouse server and returns a DataRecorder
// that writes into it. Tables are created if they do not exist yet, so
// several runs can share a database.
func NewClickHouse(opts ClickHouseOptions) (DataRecorder, error) {
	if opts.Addr == "" {
		return nil, errors.New("clickhouse address is empty")
	}

	if opts.BatchSize == 0 {
		opts.BatchSize = 100000
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      opts.DialTimeout,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	w := &clickHouseWriter{
		conn:      conn,
		batchSize: opts.BatchSize,
		tables:    make(map[string]*clickHouseTable),
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

func clickHouseType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool:
		return "Bool", true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "Int64", true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr:
		return "UInt64", true
	case reflect.Float32, reflect.Float64:
		return "Float64", true
	case reflect.String:
		return "String", true
	default:
		return "", false
	}
}

// clickHouseCreateTable builds the MergeTree table for entries shaped like
// sample. Fields tagged unique or index make up the sorting key, in field
// order.
func clickHouseCreateTable(tableName string, sample any) (string, error) {
	t := reflect.TypeOf(sample)
	if t == nil || t.Kind() != reflect.Struct {
		return "", errors.New("entry must be a struct")
	}

	columns := make([]string, 0, t.NumField())
	keys := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		chType, ok := clickHouseType(field.Type.Kind())
		if !ok {
			return "", fmt.Errorf("field %s of kind %s is not allowed",
				field.Name, field.Type.Kind())
		}

		switch field.Tag.Get("vmcore_data") {
		case "unique", "index":
			keys = append(keys, field.Name)
		}

		columns = append(columns, field.Name+" "+chType)
	}

	orderBy := "tuple()"
	if len(keys) > 0 {
		orderBy = "(" + strings.Join(keys, ", ") + ")"
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree()\nORDER BY %s",
		tableName, strings.Join(columns, ",\n\t"), orderBy), nil
}

// clickHouseRow widens every field to the Go type the column expects.
func clickHouseRow(entry any) []any {
	v := reflect.ValueOf(entry)
	row := make([]any, v.NumField())

	for i := range row {
		f := v.Field(i)

		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			row[i] = f.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
			reflect.Uint64, reflect.Uintptr:
			row[i] = f.Uint()
		case reflect.Float32, reflect.Float64:
			row[i] = f.Float()
		case reflect.Bool:
			row[i] = f.Bool()
		default:
			row[i] = f.String()
		}
	}

	return row
}

func (w *clickHouseWriter) CreateTable(tableName string, sampleEntry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	createSQL, err := clickHouseCreateTable(tableName, sampleEntry)
	if err != nil {
		panic(err)
	}

	err = w.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	w.tables[tableName] = &clickHouseTable{
		structType: reflect.TypeOf(sampleEntry),
	}
}

func (w *clickHouseWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()

	table, exists := w.tables[tableName]
	if !exists {
		w.mu.Unlock()
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		w.mu.Unlock()
		panic(fmt.Sprintf("entry of type %s does not fit table %s",
			reflect.TypeOf(entry), tableName))
	}

	table.rows = append(table.rows, clickHouseRow(entry))
	w.entryCount++
	full := w.entryCount >= w.batchSize

	w.mu.Unlock()

	if full {
		w.Flush()
	}
}

func (w *clickHouseWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}

	return tables
}

func (w *clickHouseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.entryCount == 0 || w.closed {
		return
	}

	ctx := context.Background()

	for tableName, table := range w.tables {
		if len(table.rows) == 0 {
			continue
		}

		err := w.send(ctx, tableName, table.rows)
		if err != nil {
			panic(err)
		}

		table.rows = table.rows[:0]
	}

	w.entryCount = 0
}

func (w *clickHouseWriter) send(
	ctx context.Context,
	tableName string,
	rows [][]any,
) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+tableName)
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", tableName, err)
	}

	for _, row := range rows {
		err = batch.Append(row...)
		if err != nil {
			return fmt.Errorf("failed to append to %s: %w", tableName, err)
		}
	}

	return batch.Send()
}

func (w *clickHouseWriter) Close() error {
	w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	err := w.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}
