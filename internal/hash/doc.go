// Package hash provides the CRC32-Castagnoli checksum used by snapshot
// envelopes and S3 uploads.
package hash
