// Package fits reads header metadata from FITS files.
//
// Only headers are decoded. Data units are skipped using the sizes the
// header declares, so reading the metadata of a late extension costs one
// seek per preceding HDU rather than a full read of the pixel data.
package fits
