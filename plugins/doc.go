// Package plugins hosts the content plugin subpackages installed into the
// core service. It contains no runtime code itself.
package plugins
