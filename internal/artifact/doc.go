// Package artifact handles the durable outputs of a workspace: the
// tar+zstd archive produced when a workspace is archived, the
// report.md/report.html pair written after a task completes, and the
// optional upload of archives to an S3-compatible mirror.
package artifact
