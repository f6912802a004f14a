// Package devkit provides fakes and conformance checks for hosts wiring a
// link orchestrator or the backend link service in their own tests.
package devkit
