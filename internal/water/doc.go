// Package water is the root of the surface-water classification pipeline.
//
// Stages, leaves first:
//
//	sensor      source profiles and band schemas
//	qa          cloud/shadow masking and reflectance scaling
//	harmonize   cross-sensor affine band adjustment
//	features    spectral indices (optical) and channel selection (radar)
//	labels      labeled point store and feature sampler
//	classifier  bagged decision-tree ensemble
//	envmask     radar smoothing, wind and drainage masks
//	composite   period partitioning and per-pixel median compositing
//	zonal       water area per region
//	accuracy    held-out confusion matrix, accuracy and kappa
//	pipeline    Run: region + date range + config -> TimeSeries
//
// Subpackages depend on internal/raster for pixels and never on each other
// upward; pipeline is the only package that wires every stage.
package water
