package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripwire/internal/ir"
)

func sensorEnv() Env {
	return Env{
		InputName: "Sensor",
		Payload: ir.Object{
			"motorid":  ir.String("m-1"),
			"temp":     ir.Number(150),
			"ok":       ir.Bool(true),
			"none":     ir.Null{},
			"readings": ir.Array{ir.Number(10), ir.Number(20)},
			"sensor data": ir.Object{
				"rpm": ir.Number(1200),
			},
		},
		Variables: ir.Object{
			"count": ir.Number(2),
			"label": ir.String("hot"),
		},
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		src  string
		want ir.Value
	}{
		{"1 + 2 * 3", ir.Number(7)},
		{"(1 + 2) * 3", ir.Number(9)},
		{"10 - 4 - 3", ir.Number(3)},
		{"7 % 4", ir.Number(3)},
		{"-2 + 5", ir.Number(3)},
		{"1.5e2", ir.Number(150)},
		{"'a' + 'b'", ir.String("ab")},
		{"'count=' + 3", ir.String("count=3")},
		{"2.5 + ':' + true", ir.String("2.5:true")},
		{"\"dq\" == 'dq'", ir.Bool(true)},
		{"'it\\'s'", ir.String("it's")},
		{"$input.Sensor.temp > 100", ir.Bool(true)},
		{"$input.Sensor.temp >= 150 && $input.Sensor.ok", ir.Bool(true)},
		{"$input.Sensor.readings[1]", ir.Number(20)},
		{"$input.Sensor.`sensor data`.rpm", ir.Number(1200)},
		{"$variable.count + 1", ir.Number(3)},
		{"$variable.label == 'hot'", ir.Bool(true)},
		{"'b' > 'a'", ir.Bool(true)},
		{"1 == '1'", ir.Bool(false)},
		{"1 != '1'", ir.Bool(true)},
		{"!false || false", ir.Bool(true)},
		{"true && false || true", ir.Bool(true)},
		{"false && true || false", ir.Bool(false)},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := MustParse(tt.src).Eval(sensorEnv())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFunctions(t *testing.T) {
	timerEnv := Env{TimerName: "idle", Variables: ir.Object{"n": ir.Number(-2.5)}}

	tests := []struct {
		src  string
		env  Env
		want ir.Value
	}{
		{"timeout('idle')", timerEnv, ir.Bool(true)},
		{"timeout('other')", timerEnv, ir.Bool(false)},
		{"timeout('idle')", sensorEnv(), ir.Bool(false)},
		{"currentInput('Sensor')", sensorEnv(), ir.Bool(true)},
		{"currentInput('Sensor')", timerEnv, ir.Bool(false)},
		{"isUndefined($input.Sensor.missing)", sensorEnv(), ir.Bool(true)},
		{"isUndefined($input.Other.temp)", sensorEnv(), ir.Bool(true)},
		{"isUndefined($variable.count)", sensorEnv(), ir.Bool(false)},
		{"isNull($input.Sensor.none)", sensorEnv(), ir.Bool(true)},
		{"isNull($input.Sensor.temp)", sensorEnv(), ir.Bool(false)},
		{"isString($input.Sensor.motorid)", sensorEnv(), ir.Bool(true)},
		{"isNumber($input.Sensor.temp)", sensorEnv(), ir.Bool(true)},
		{"isBoolean($input.Sensor.ok)", sensorEnv(), ir.Bool(true)},
		{"isNaN('abc')", sensorEnv(), ir.Bool(true)},
		{"isNaN('12.5')", sensorEnv(), ir.Bool(false)},
		{"isNaN(3)", sensorEnv(), ir.Bool(false)},
		{"convert(Decimal, '12.5') + 1", sensorEnv(), ir.Number(13.5)},
		{"convert(String, 42)", sensorEnv(), ir.String("42")},
		{"convert(Boolean, 'TRUE')", sensorEnv(), ir.Bool(true)},
		{"convert(Boolean, 0)", sensorEnv(), ir.Bool(false)},
		{"convert(Decimal, true)", sensorEnv(), ir.Number(1)},
		{"abs($variable.n)", timerEnv, ir.Number(2.5)},
		{"ceil($variable.n)", timerEnv, ir.Number(-2)},
		{"floor($variable.n)", timerEnv, ir.Number(-3)},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := MustParse(tt.src).Eval(tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortCircuit(t *testing.T) {
	timerEnv := Env{TimerName: "idle"}

	// The right operand would be unresolved in a timer cycle.
	ok, err := MustParse("currentInput('Sensor') && $input.Sensor.temp > 100").EvalBool(timerEnv)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = MustParse("timeout('idle') || $input.Sensor.temp > 100").EvalBool(timerEnv)
	require.NoError(t, err)
	assert.True(t, ok)

	// The left operand always evaluates, so its errors propagate.
	_, err = MustParse("$input.Sensor.temp > 100 || timeout('idle')").EvalBool(timerEnv)
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		src  string
		kind Kind
	}{
		{"$input.Sensor.missing > 1", KindUnresolved},
		{"$input.Other.temp", KindUnresolved},
		{"$variable.nope", KindUnresolved},
		{"$input.Sensor.readings[5]", KindUnresolved},
		{"$input.Sensor.motorid > 3", KindTypeMismatch},
		{"'a' - 1", KindTypeMismatch},
		{"!3", KindTypeMismatch},
		{"-'x'", KindTypeMismatch},
		{"1 && true", KindTypeMismatch},
		{"true && 1", KindTypeMismatch},
		{"1 / 0", KindTypeMismatch},
		{"5 % 0", KindTypeMismatch},
		{"convert(Decimal, 'abc')", KindTypeMismatch},
		{"abs('x')", KindTypeMismatch},
		{"timeout(1)", KindTypeMismatch},
		{"isUndefined(1 + 'a' - 2)", KindTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := MustParse(tt.src).Eval(sensorEnv())
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
			assert.True(t, errors.Is(err, ErrExpression))

			var exprErr *Error
			require.ErrorAs(t, err, &exprErr)
			assert.Equal(t, tt.src, exprErr.Source)
		})
	}
}

func TestEvalBoolRequiresBoolean(t *testing.T) {
	_, err := MustParse("$input.Sensor.temp").EvalBool(sensorEnv())
	require.Error(t, err)
	assert.True(t, IsTypeMismatch(err))
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(1 + 2",
		"1 2",
		"'open",
		"$foo.bar",
		"$input.Sensor",
		"$input.",
		"$input.Sensor.a[x]",
		"nope(1)",
		"abs(1, 2)",
		"convert(Integer, 1)",
		"convert(String 1)",
		"temp > 1",
		"1.",
		"1e",
		"#",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindSyntax), "got %v", err)
		})
	}
}

func TestReferences(t *testing.T) {
	e := MustParse("$input.Sensor.temp > $variable.limit && currentInput('Button') || timeout('idle') && $input.Sensor.r[0] > 1")

	refs := e.References()
	require.Len(t, refs, 3)
	assert.Equal(t, "$input.Sensor.temp", refs[0].String())
	assert.Equal(t, "$variable.limit", refs[1].String())
	assert.Equal(t, "$input.Sensor.r[0]", refs[2].String())

	assert.Equal(t, []string{"Button", "Sensor"}, e.InputNames())
	assert.Equal(t, []string{"idle"}, e.TimerNames())
}

func TestTemplate(t *testing.T) {
	tpl, err := ParseTemplate("motors/${$input.Sensor.motorid}/temp/${$variable.count * 10}")
	require.NoError(t, err)
	assert.Len(t, tpl.Exprs(), 2)

	got, err := tpl.Render(sensorEnv())
	require.NoError(t, err)
	assert.Equal(t, "motors/m-1/temp/20", got)

	plain, err := ParseTemplate("alerts/static")
	require.NoError(t, err)
	got, err = plain.Render(Env{})
	require.NoError(t, err)
	assert.Equal(t, "alerts/static", got)

	quoted, err := ParseTemplate("a-${'}' + 'x'}")
	require.NoError(t, err)
	got, err = quoted.Render(Env{})
	require.NoError(t, err)
	assert.Equal(t, "a-}x", got)

	_, err = ParseTemplate("bad ${1 +")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSyntax))

	_, err = tpl.Render(Env{})
	assert.True(t, IsUnresolved(err))
}
