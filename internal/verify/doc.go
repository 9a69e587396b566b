// Package verify 对 wrapped 或 signed 文档执行四类相互独立的检查：
// STRUCTURE、INTEGRITY、STATUS、IDENTITY。每类检查产出一个 Fragment，
// 结果由全部 Fragment 折叠得出，不存在共享的可变状态。
//
// 网络检查（STATUS、IDENTITY）在独立的超时下并发执行；超时记为 ERROR。
// ERROR 的处理方式由 ErrorPolicy 决定。
package verify
