// Package raster owns the in-memory raster model shared by every pipeline
// stage: grids, bands with validity masks, images, lazy collections and the
// local implementation of the raster data service primitives (filter, map,
// mosaic, median, convolve, resample and region reduction).
//
// Responsibilities:
//   - Image/Band/Grid types and the nodata convention (validity masks, never NaN)
//   - Collection: a finite, restartable, lazily evaluated sequence of images
//   - Service: source/date/bounds filtering over a scene catalog
//   - Ingest: GeoTIFF scene manifests and NetCDF wind grids
//   - Error taxonomy: ErrInput, ErrResourceLimit, ErrExternalService
//
// Dependency rule: raster imports no other internal package except
// monitoring. Domain semantics (sensors, indices, classification) live in
// internal/water.
package raster
