package bridge

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskcue/cuebridge/pkg/engine"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// Bridge is the process boundary in front of the engine. No outcome of a
// call, a panic included, escapes it as anything but a Response.
type Bridge struct {
	engine   *engine.Engine
	validate *validator.Validate
	newID    func() string
}

// New returns a bridge driving the default engine.
func New() *Bridge {
	return NewWithEngine(engine.New(nil))
}

// NewWithEngine returns a bridge driving eng.
func NewWithEngine(eng *engine.Engine) *Bridge {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Bridge{
		engine:   eng,
		validate: v,
		newID:    uuid.NewString,
	}
}

// Evaluate runs one call and returns its envelope.
func (b *Bridge) Evaluate(ctx context.Context, req Request) (resp Response) {
	callID := b.newID()
	ctx = telemetry.WithCallContext(ctx, callID)
	op := telemetry.StartOperation(ctx, telemetry.SpanEvaluate,
		telemetry.AttrCallID.String(callID),
		telemetry.AttrModuleRoot.String(req.ModuleRoot))
	metrics := telemetry.MetricsFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			perr := engine.PanicError("bridge", r)
			op.Logger.WithError(perr).Error("Recovered panic at the boundary")
			metrics.RecordPanic("bridge")
			resp = FromError(perr)
		}
		var err error
		code := "OK"
		if resp.Error != nil {
			code = string(resp.Error.Code)
			err = errors.New(resp.Error.Message)
			op.Span.SetAttributes(telemetry.AttrErrorCode.String(code))
		}
		metrics.RecordCall(code, op.Timer.Duration())
		op.End(err)
	}()

	if err := b.validateRequest(req); err != nil {
		op.Logger.WithError(err).Warn("Rejected request")
		return FromError(err)
	}

	op.Logger.Debug("Evaluating module")
	res, err := b.engine.Run(op.Ctx, req.engineRequest())
	if err != nil {
		op.Logger.WithError(err).Warn("Evaluation failed")
		return FromError(err)
	}
	return Success(res)
}

// HandleJSON decodes a JSON request, evaluates it and returns the encoded
// envelope. It never panics and always returns a valid envelope.
func (b *Bridge) HandleJSON(ctx context.Context, input []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			out = mustMarshal(FromError(engine.PanicError("bridge", r)))
		}
	}()

	var req Request
	if err := json.Unmarshal(input, &req); err != nil {
		return mustMarshal(FromError(
			engine.NewError(engine.CodeInvalidInput, "malformed request", err).
				WithHint(`send a JSON object such as {"moduleRoot": "/path/to/module"}`)))
	}

	return Encode(b.Evaluate(ctx, req))
}

// Encode marshals resp, turning an encoding failure into a
// SERIALIZATION_FAILURE envelope.
func Encode(resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		return mustMarshal(FromError(
			engine.NewError(engine.CodeSerializationFailure, "encode result", err)))
	}
	return out
}

// mustMarshal encodes envelopes that contain only strings and cannot fail.
func mustMarshal(resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"version":"` + Version + `","error":{"code":"` +
			string(CodeSerializationFailure) + `","message":"encode error envelope"}}`)
	}
	return out
}

func (b *Bridge) validateRequest(req Request) error {
	err := b.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewError(engine.CodeInvalidInput, "invalid request", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, field+" failed "+fe.Tag()+" validation")
		}
	}
	return engine.NewError(engine.CodeInvalidInput, strings.Join(msgs, "; "), nil).
		WithHint("moduleRoot must name a directory inside a CUE module")
}

var defaultBridge = New()

// Evaluate is the byte-level boundary entry point using a default bridge.
func Evaluate(input []byte) []byte {
	return defaultBridge.HandleJSON(context.Background(), input)
}
