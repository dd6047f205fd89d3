package ecode

// 错误码定义，0表示无错误
const (
	Success = 0

	// 通用内部错误
	InternalErr = 10001
	// 请求参数错误
	InvalidParamErr = 10002

	// 行情/用户数据流传输层错误，可恢复，触发重连
	TransportErr = 20001
	// 消息缺少必要字段或无法解析，丢弃该条消息即可
	MalformedMessageErr = 20002
	// 成交方向代码无法识别
	UnrecognizedSideErr = 20003

	// 交易所下单返回错误，对当前执行是致命的，不允许自动重试
	VenueOrderErr = 30001
	// 初始化时查询数量精度失败，无法安全计算下单数量
	PrecisionLookupErr = 30002
	// 控制通道（telegram）轮询失败，按本轮无新指令处理
	ControlChannelErr = 30003
)
