package schema

import (
	"fmt"
	"sync"
)

// Registry names.
const (
	CommandRegistry = "commands"
	EventRegistry   = "events"
)

var commandTable = []Entry{
	Msg(CmdInit, "init",
		Struct("fixed_param", TagInitCmdFixedParam, 32),
		Struct("resource_config", TagResourceConfig, 68),
		StructArray("host_mem_chunks", 16),
		Struct("hw_mode", TagPdevSetHwModeCmdFixedParam, 12).AsOptional().Since(5),
	),
	Msg(CmdEcho, "echo",
		Struct("fixed_param", TagEchoCmdFixedParam, 8),
	),
	Msg(CmdStartScan, "start_scan",
		Struct("fixed_param", TagStartScanCmdFixedParam, 84),
		Uint32Array("channel_list"),
		FixedStructArray("ssid_list", 36),
		FixedStructArray("bssid_list", 8),
		ByteArray("ie_data"),
	),
	Msg(CmdStopScan, "stop_scan",
		Struct("fixed_param", TagStopScanCmdFixedParam, 24),
	),
	Msg(CmdPdevSetParam, "pdev_set_param",
		Struct("fixed_param", TagPdevSetParamCmdFixedParam, 16),
	),
	Msg(CmdPdevSetHwMode, "pdev_set_hw_mode",
		Struct("fixed_param", TagPdevSetHwModeCmdFixedParam, 12),
	),
	Msg(CmdVdevCreate, "vdev_create",
		Struct("fixed_param", TagVdevCreateCmdFixedParam, 28),
		StructArray("cfg_txrx_streams", 16).AsOptional().Since(4),
	),
	Msg(CmdVdevDelete, "vdev_delete",
		Struct("fixed_param", TagVdevDeleteCmdFixedParam, 8),
	),
	Msg(CmdVdevStart, "vdev_start",
		Struct("fixed_param", TagVdevStartRequestCmdFixedParam, 40),
		Struct("channel", TagChannel, 28),
		StructArray("noa_descriptors", 20).AsOptional(),
	),
	Msg(CmdPeerCreate, "peer_create",
		Struct("fixed_param", TagPeerCreateCmdFixedParam, 20),
	),
	Msg(CmdMgmtTxSend, "mgmt_tx_send",
		Struct("fixed_param", TagMgmtTxSendCmdFixedParam, 44),
		ByteArray("bufp"),
	),
	Msg(CmdRoamScanMode, "roam_scan_mode",
		Struct("fixed_param", TagRoamScanModeFixedParam, 12),
		Uint32ArrayN("offload_params", 4).AsOptional().Since(5),
	),
	Msg(CmdRequestStats, "request_stats",
		Struct("fixed_param", TagRequestStatsCmdFixedParam, 20),
	),
}

var eventTable = []Entry{
	Msg(EvtServiceReady, "service_ready",
		Struct("fixed_param", TagServiceReadyEventFixedParam, 80),
		Uint32ArrayN("service_bitmap", 4),
		Struct("hal_reg_capabilities", TagHalRegCapabilities, 28),
		StructArray("mem_reqs", 20),
		Uint32Array("dbs_hw_mode_list").AsOptional().Since(5),
	),
	Msg(EvtReady, "ready",
		Struct("fixed_param", TagReadyEventFixedParam, 44),
		FixedStructArray("mac_addr_list", 8).AsOptional().Since(4),
	),
	Msg(EvtServiceReadyExt, "service_ready_ext",
		Struct("fixed_param", TagServiceReadyExtEventFixedParam, 28),
		ByteArray("hw_mode_caps").AsOptional(),
	),
	Msg(EvtEcho, "echo",
		Struct("fixed_param", TagEchoEventFixedParam, 8),
	),
	Msg(EvtScan, "scan",
		Struct("fixed_param", TagScanEventFixedParam, 28),
	),
	Msg(EvtVdevStartResp, "vdev_start_resp",
		Struct("fixed_param", TagVdevStartResponseEventFixedParam, 24),
	),
	Msg(EvtPeerStaKickout, "peer_sta_kickout",
		Struct("fixed_param", TagPeerStaKickoutEventFixedParam, 16),
	),
	Msg(EvtMgmtRx, "mgmt_rx",
		Struct("hdr", TagMgmtRxHdr, 40),
		ByteArray("bufp"),
	),
	Msg(EvtRoam, "roam",
		Struct("fixed_param", TagRoamEventFixedParam, 16),
		ByteArray("frame").AsOptional(),
	),
	Msg(EvtUpdateStats, "update_stats",
		Struct("fixed_param", TagStatsEventFixedParam, 24),
		ByteArray("data"),
		StructArray("chan_stats", 28).AsOptional().Since(5),
	),
	Msg(EvtDebugPrint, "debug_print",
		Struct("fixed_param", TagDebugPrintEventFixedParam, 8),
		ByteArray("msg"),
	),
}

var (
	commandsOnce sync.Once
	commands     *Registry
	eventsOnce   sync.Once
	events       *Registry
)

// Commands returns the compiled-in command registry.
func Commands() *Registry {
	commandsOnce.Do(func() {
		commands = mustLoadTable(CommandRegistry, commandTable)
	})
	return commands
}

// Events returns the compiled-in event registry.
func Events() *Registry {
	eventsOnce.Do(func() {
		events = mustLoadTable(EventRegistry, eventTable)
	})
	return events
}

// mustLoadTable packs a compiled-in table into descriptor words and loads
// the registry back from them, so the word checks run on every start.
func mustLoadTable(name string, table []Entry) *Registry {
	rows, err := PackTable(table)
	if err != nil {
		panic(fmt.Sprintf("schema: pack %s: %v", name, err))
	}
	reg, err := LoadPacked(name, rows)
	if err != nil {
		panic(fmt.Sprintf("schema: load %s: %v", name, err))
	}
	return reg
}
