package metrics

import "time"

var (
	executions = newCounterVec(
		"vaultpilot_executions_total",
		"Total number of strategy executions by result.",
		"network", "result",
	)
	phaseErrors = newCounterVec(
		"vaultpilot_pipeline_phase_errors_total",
		"Total number of pipeline phase failures by error code.",
		"phase", "code",
	)
	executionDuration = newHistogramVec(
		"vaultpilot_execution_duration_seconds",
		"Strategy execution duration in seconds.",
	)
)

// ObserveExecution 记录一次策略执行的结果与耗时。
// result 取值为 executed / skipped / partial / duplicate。
func ObserveExecution(network, result string, duration time.Duration) {
	executions.inc(network, result)
	executionDuration.observe(duration.Seconds())
}

// ObservePhaseError 记录某个执行阶段的失败。
func ObservePhaseError(phase, code string) {
	phaseErrors.inc(phase, code)
}
