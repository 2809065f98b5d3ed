package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：请求本身有问题，重试无意义
// - 5xxx：系统错误（需要中断流程）
const (
	OK                  = 0
	UnsupportedTemplate = 4001
	SystemError         = 5000
	EngineUnavailable   = 5003
	RenderTimeout       = 5004
)
