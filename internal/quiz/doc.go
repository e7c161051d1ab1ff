// Package quiz holds question records and the non-repeating question pool.
//
// A Pool hands out every loaded question once, in random order, before any
// question is repeated. What happens after the last question depends on the
// pool's ExhaustPolicy.
package quiz
