package schema

import "github.com/danmuck/wmitlv/internal/protocol/tlv"

// Fixed structure tags used by the compiled-in tables.
const (
	TagServiceReadyEventFixedParam uint16 = tlv.TagFirstStruct + iota
	TagHalRegCapabilities
	TagMemoryRequirements
	TagReadyEventFixedParam
	TagInitCmdFixedParam
	TagResourceConfig
	TagHostMemoryChunk
	TagPdevSetHwModeCmdFixedParam
	TagStartScanCmdFixedParam
	TagStopScanCmdFixedParam
	TagScanEventFixedParam
	TagPdevSetParamCmdFixedParam
	TagVdevCreateCmdFixedParam
	TagVdevTxRxStreams
	TagVdevDeleteCmdFixedParam
	TagVdevStartRequestCmdFixedParam
	TagChannel
	TagP2pNoaDescriptor
	TagVdevStartResponseEventFixedParam
	TagPeerCreateCmdFixedParam
	TagPeerStaKickoutEventFixedParam
	TagMgmtTxSendCmdFixedParam
	TagMgmtRxHdr
	TagRoamScanModeFixedParam
	TagRoamEventFixedParam
	TagRequestStatsCmdFixedParam
	TagStatsEventFixedParam
	TagChanStats
	TagDebugPrintEventFixedParam
	TagEchoCmdFixedParam
	TagEchoEventFixedParam
	TagServiceReadyExtEventFixedParam
)

// WMI message groups. The first id of a group is group<<12 | 1.
const (
	GroupInit  uint32 = 0x0
	GroupEcho  uint32 = 0x1
	GroupScan  uint32 = 0x3
	GroupPdev  uint32 = 0x4
	GroupVdev  uint32 = 0x5
	GroupPeer  uint32 = 0x6
	GroupMgmt  uint32 = 0x7
	GroupRoam  uint32 = 0xA
	GroupStats uint32 = 0xB
	GroupDebug uint32 = 0xC
)

// Command ids.
const (
	CmdInit          = GroupInit<<12 | 1
	CmdEcho          = GroupEcho<<12 | 1
	CmdStartScan     = GroupScan<<12 | 1
	CmdStopScan      = GroupScan<<12 | 2
	CmdPdevSetParam  = GroupPdev<<12 | 3
	CmdPdevSetHwMode = GroupPdev<<12 | 4
	CmdVdevCreate    = GroupVdev<<12 | 1
	CmdVdevDelete    = GroupVdev<<12 | 2
	CmdVdevStart     = GroupVdev<<12 | 3
	CmdPeerCreate    = GroupPeer<<12 | 1
	CmdMgmtTxSend    = GroupMgmt<<12 | 1
	CmdRoamScanMode  = GroupRoam<<12 | 1
	CmdRequestStats  = GroupStats<<12 | 1
)

// Event ids.
const (
	EvtServiceReady    = GroupInit<<12 | 1
	EvtReady           = GroupInit<<12 | 2
	EvtServiceReadyExt = GroupInit<<12 | 3
	EvtEcho            = GroupEcho<<12 | 1
	EvtScan            = GroupScan<<12 | 1
	EvtVdevStartResp   = GroupVdev<<12 | 1
	EvtPeerStaKickout  = GroupPeer<<12 | 1
	EvtMgmtRx          = GroupMgmt<<12 | 1
	EvtRoam            = GroupRoam<<12 | 1
	EvtUpdateStats     = GroupStats<<12 | 1
	EvtDebugPrint      = GroupDebug<<12 | 1
)
