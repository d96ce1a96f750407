package docstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hitoshi/rutas/internal/docstore"

// OpRecorder はストア操作のレイテンシと結果を記録するインターフェース。
// metrics.Collectorが実装する。
type OpRecorder interface {
	RecordStoreOp(op, collection string, duration time.Duration, err error)
}

// Instrumented はStoreの各操作にOpenTelemetryのスパンとメトリクス記録を付与するデコレータ。
type Instrumented struct {
	next     Store
	tracer   trace.Tracer
	recorder OpRecorder
}

// InstrumentedOption はInstrumentedの設定を変更する。
type InstrumentedOption func(*Instrumented)

// WithTracer は使用するトレーサーを指定する。
// 未指定の場合はグローバルのTracerProviderから取得する。
func WithTracer(t trace.Tracer) InstrumentedOption {
	return func(s *Instrumented) {
		s.tracer = t
	}
}

// NewInstrumented はnextをラップしたInstrumentedを生成する。
// recorderがnilの場合はメトリクスを記録しない。
// WithTracerを指定しない場合はグローバルのTracerProviderを使う。
// 呼び出し側がotel.SetTracerProviderを設定するまでスパンは記録されない。
func NewInstrumented(next Store, recorder OpRecorder, opts ...InstrumentedOption) *Instrumented {
	s := &Instrumented{next: next, recorder: recorder}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(instrumentationName)
	}
	return s
}

// Get は指定ドキュメントを取得する。
func (s *Instrumented) Get(ctx context.Context, collection, id string) (*Document, error) {
	ctx, done := s.start(ctx, "get", collection, id)
	doc, err := s.next.Get(ctx, collection, id)
	done(err, attribute.Bool("docstore.found", doc != nil))
	return doc, err
}

// Set はドキュメントを書き込む。
func (s *Instrumented) Set(ctx context.Context, collection, id string, data map[string]any, opts SetOptions) error {
	ctx, done := s.start(ctx, "set", collection, id)
	err := s.next.Set(ctx, collection, id, data, opts)
	done(err, attribute.Bool("docstore.merge", opts.Merge))
	return err
}

// Add は新規ドキュメントを作成する。
func (s *Instrumented) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ctx, done := s.start(ctx, "add", collection, "")
	id, err := s.next.Add(ctx, collection, data)
	done(err, attribute.String("docstore.id", id))
	return id, err
}

// List はコレクション内の全ドキュメントを返す。
func (s *Instrumented) List(ctx context.Context, collection string) ([]Document, error) {
	ctx, done := s.start(ctx, "list", collection, "")
	docs, err := s.next.List(ctx, collection)
	done(err, attribute.Int("docstore.count", len(docs)))
	return docs, err
}

// Delete は指定ドキュメントを削除する。
func (s *Instrumented) Delete(ctx context.Context, collection, id string) error {
	ctx, done := s.start(ctx, "delete", collection, id)
	err := s.next.Delete(ctx, collection, id)
	done(err)
	return err
}

// start はスパンを開始し、終了処理を行う関数を返す。
func (s *Instrumented) start(ctx context.Context, op, collection, id string) (context.Context, func(error, ...attribute.KeyValue)) {
	attrs := []attribute.KeyValue{attribute.String("docstore.collection", collection)}
	if id != "" {
		attrs = append(attrs, attribute.String("docstore.id", id))
	}

	ctx, span := s.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(attrs...))
	begin := time.Now()

	return ctx, func(err error, extra ...attribute.KeyValue) {
		if len(extra) > 0 {
			span.SetAttributes(extra...)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s.recorder != nil {
			s.recorder.RecordStoreOp(op, collection, time.Since(begin), err)
		}
	}
}

// compile-time interface check
var _ Store = (*Instrumented)(nil)
