// Package expr parses and evaluates detector model expressions.
//
// An expression reads the triggering message through
// $input.<InputName>.<path> and detector variables through
// $variable.<name>. Operators by increasing precedence:
//
//	||
//	&&
//	== !=
//	< <= > >=
//	+ -          (+ concatenates when either side is a string)
//	* / %
//	! -          (unary)
//
// && and || evaluate their left operand first and skip the right operand
// when the left decides the result, so a condition such as
//
//	currentInput("Sensor") && $input.Sensor.temp > 100
//
// never fails on cycles triggered by other inputs.
//
// Evaluation is pure; every failure is an *Error.
package expr
