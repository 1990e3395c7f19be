// Package classifier implements the binary water/non-water classifier: a
// bagged ensemble of CART decision trees (a random forest) bound to one
// predictor schema.
//
// A Model is created once per modality per run by Train and is immutable
// afterwards, so a single Model may serve concurrent Predict calls.
// Training is deterministic for a given seed and training set: tree t
// draws from its own PCG stream (seed, t), so the result does not depend
// on how trees are scheduled across goroutines.
package classifier
