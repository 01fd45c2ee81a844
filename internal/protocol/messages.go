package protocol

import (
	"fmt"

	"github.com/pascaldekloe/name"
)

// InvalidMessageID is returned when a buffer cannot carry a QMI header.
const InvalidMessageID uint16 = 0xffff

// Control service.
const (
	CtlSetInstanceID     uint16 = 0x0020
	CtlGetVersionInfo    uint16 = 0x0021
	CtlClientRegisterReq uint16 = 0x0022 // allocate client id
	CtlClientReleaseReq  uint16 = 0x0023 // release client id
	CtlRevokeClientInd   uint16 = 0x0024
	CtlInvalidClientInd  uint16 = 0x0025
	CtlSetDataFormat     uint16 = 0x0026
	CtlSync              uint16 = 0x0027
)

// Network access service.
const (
	NASReset                  uint16 = 0x0000
	NASAbort                  uint16 = 0x0001
	NASEventReport            uint16 = 0x0002
	NASRegisterIndications    uint16 = 0x0003
	NASGetSupportedMessages   uint16 = 0x001e
	NASGetSignalStrength      uint16 = 0x0020
	NASNetworkScan            uint16 = 0x0021
	NASInitiateRegister       uint16 = 0x0022
	NASAttachDetach           uint16 = 0x0023
	NASServingSystem          uint16 = 0x0024
	NASGetHomeNetwork         uint16 = 0x0025
	NASGetRFBandInformation   uint16 = 0x0031
	NASGetSystemSelectionPref uint16 = 0x0034
	NASGetOperatorName        uint16 = 0x0039
	NASOperatorName           uint16 = 0x003a
	NASGetCellLocationInfo    uint16 = 0x0043
	NASGetPLMNName            uint16 = 0x0044
	NASNetworkTime            uint16 = 0x004c
	NASGetSystemInfo          uint16 = 0x004d
	NASSystemInfo             uint16 = 0x004e
	NASGetSignalInfo          uint16 = 0x004f
	NASConfigSignalInfo       uint16 = 0x0050
	NASSignalInfo             uint16 = 0x0051
	NASGetTxRxInfo            uint16 = 0x005a
	NASForceNetworkSearch     uint16 = 0x0067
	NASNetworkReject          uint16 = 0x0068
	NASConfigSignalInfoV2     uint16 = 0x006c
	NASGetIMSPreferenceState  uint16 = 0x0073
	NASGetDRX                 uint16 = 0x0089
	NASGetLTECphyCAInfo       uint16 = 0x00ac
)

// Wireless messaging service.
const (
	WMSReset              uint16 = 0x0000
	WMSEventReport        uint16 = 0x0001 // set event report request and event report indication
	WMSRawSend            uint16 = 0x0020
	WMSRawWrite           uint16 = 0x0021
	WMSRawRead            uint16 = 0x0022
	WMSModifyTag          uint16 = 0x0023
	WMSDelete             uint16 = 0x0024
	WMSGetMessageProtocol uint16 = 0x0030
	WMSListMessages       uint16 = 0x0031
	WMSSetRoutes          uint16 = 0x0032
	WMSGetRoutes          uint16 = 0x0033
	WMSSendAck            uint16 = 0x0037
	WMSSetBroadcastConfig uint16 = 0x003a
	WMSSetBroadcastActive uint16 = 0x003b
	WMSIndicationRegister uint16 = 0x0047
)

// Voice service.
const (
	VoiceIndicationRegister uint16 = 0x0003
	VoiceDialCall           uint16 = 0x0020
	VoiceEndCall            uint16 = 0x0021
	VoiceAnswerCall         uint16 = 0x0022
	VoiceGetCallInfo        uint16 = 0x0024
	VoiceSendFlashEvent     uint16 = 0x0027
	VoiceStartContDTMF      uint16 = 0x0029
	VoiceStopContDTMF       uint16 = 0x002a
	VoiceAllCallStatusInd   uint16 = 0x002e
	VoiceGetAllCallInfo     uint16 = 0x002f
	VoiceManageCalls        uint16 = 0x0031
	VoiceSetupAnswer        uint16 = 0x004e
)

// Location service.
const (
	LOCRegisterEvents       uint16 = 0x0021
	LOCStart                uint16 = 0x0022
	LOCStop                 uint16 = 0x0023
	LOCEventPositionReport  uint16 = 0x0024
	LOCEventNMEA            uint16 = 0x0026
	LOCEventEngineState     uint16 = 0x002b
	LOCGetServiceRevision   uint16 = 0x0032
	LOCSetOperationMode     uint16 = 0x004a
	LOCGetOperationMode     uint16 = 0x004b
	LOCSetNMEATypes         uint16 = 0x003e
	LOCDeleteAssistData     uint16 = 0x0034
	LOCInjectUTCTime        uint16 = 0x0038
	LOCGetEngineLock        uint16 = 0x0041
	LOCSetEngineLock        uint16 = 0x0040
	LOCInjectPosition       uint16 = 0x0039
	LOCEventGNSSMeasurement uint16 = 0x0086
)

var messageNames = map[ServiceID]map[uint16]string{
	ServiceControl: {
		CtlSetInstanceID:     "SetInstanceID",
		CtlGetVersionInfo:    "GetVersionInfo",
		CtlClientRegisterReq: "AllocateClientID",
		CtlClientReleaseReq:  "ReleaseClientID",
		CtlRevokeClientInd:   "RevokeClientID",
		CtlInvalidClientInd:  "InvalidClientID",
		CtlSetDataFormat:     "SetDataFormat",
		CtlSync:              "Sync",
	},
	ServiceNAS: {
		NASReset:                  "Reset",
		NASAbort:                  "Abort",
		NASEventReport:            "EventReport",
		NASRegisterIndications:    "RegisterIndications",
		NASGetSupportedMessages:   "GetSupportedMessages",
		NASGetSignalStrength:      "GetSignalStrength",
		NASNetworkScan:            "NetworkScan",
		NASInitiateRegister:       "InitiateNetworkRegister",
		NASAttachDetach:           "AttachDetach",
		NASServingSystem:          "ServingSystem",
		NASGetHomeNetwork:         "GetHomeNetwork",
		NASGetRFBandInformation:   "GetRFBandInformation",
		NASGetSystemSelectionPref: "GetSystemSelectionPreference",
		NASGetOperatorName:        "GetOperatorName",
		NASOperatorName:           "OperatorName",
		NASGetCellLocationInfo:    "GetCellLocationInfo",
		NASGetPLMNName:            "GetPLMNName",
		NASNetworkTime:            "NetworkTime",
		NASGetSystemInfo:          "GetSystemInfo",
		NASSystemInfo:             "SystemInfo",
		NASGetSignalInfo:          "GetSignalInfo",
		NASConfigSignalInfo:       "ConfigSignalInfo",
		NASSignalInfo:             "SignalInfo",
		NASGetTxRxInfo:            "GetTxRxInfo",
		NASForceNetworkSearch:     "ForceNetworkSearch",
		NASNetworkReject:          "NetworkReject",
		NASConfigSignalInfoV2:     "ConfigSignalInfoV2",
		NASGetIMSPreferenceState:  "GetIMSPreferenceState",
		NASGetDRX:                 "GetDRX",
		NASGetLTECphyCAInfo:       "GetLTECphyCAInfo",
	},
	ServiceWMS: {
		WMSReset:              "Reset",
		WMSEventReport:        "EventReport",
		WMSRawSend:            "RawSend",
		WMSRawWrite:           "RawWrite",
		WMSRawRead:            "RawRead",
		WMSModifyTag:          "ModifyTag",
		WMSDelete:             "Delete",
		WMSGetMessageProtocol: "GetMessageProtocol",
		WMSListMessages:       "ListMessages",
		WMSSetRoutes:          "SetRoutes",
		WMSGetRoutes:          "GetRoutes",
		WMSSendAck:            "SendAck",
		WMSSetBroadcastConfig: "SetBroadcastConfig",
		WMSSetBroadcastActive: "SetBroadcastActivation",
		WMSIndicationRegister: "IndicationRegister",
	},
	ServiceVoice: {
		VoiceIndicationRegister: "IndicationRegister",
		VoiceDialCall:           "DialCall",
		VoiceEndCall:            "EndCall",
		VoiceAnswerCall:         "AnswerCall",
		VoiceGetCallInfo:        "GetCallInfo",
		VoiceSendFlashEvent:     "SendFlashEvent",
		VoiceStartContDTMF:      "StartContinuousDTMF",
		VoiceStopContDTMF:       "StopContinuousDTMF",
		VoiceAllCallStatusInd:   "AllCallStatus",
		VoiceGetAllCallInfo:     "GetAllCallInfo",
		VoiceManageCalls:        "ManageCalls",
		VoiceSetupAnswer:        "SetupAnswer",
	},
	ServiceLOC: {
		LOCRegisterEvents:       "RegisterEvents",
		LOCStart:                "Start",
		LOCStop:                 "Stop",
		LOCEventPositionReport:  "PositionReport",
		LOCEventNMEA:            "NMEA",
		LOCEventEngineState:     "EngineState",
		LOCGetServiceRevision:   "GetServiceRevision",
		LOCSetOperationMode:     "SetOperationMode",
		LOCGetOperationMode:     "GetOperationMode",
		LOCSetNMEATypes:         "SetNMEATypes",
		LOCDeleteAssistData:     "DeleteAssistData",
		LOCInjectUTCTime:        "InjectUTCTime",
		LOCGetEngineLock:        "GetEngineLock",
		LOCSetEngineLock:        "SetEngineLock",
		LOCInjectPosition:       "InjectPosition",
		LOCEventGNSSMeasurement: "GNSSMeasurement",
	},
}

// MessageName returns the table name for a message id, or a hex placeholder.
func MessageName(service ServiceID, id uint16) string {
	if names, ok := messageNames[service]; ok {
		if n, ok := names[id]; ok {
			return n
		}
	}
	return fmt.Sprintf("0x%04x", id)
}

// MessageLabel is MessageName in snake_case, for log fields and metric labels.
func MessageLabel(service ServiceID, id uint16) string {
	if names, ok := messageNames[service]; ok {
		if n, ok := names[id]; ok {
			return name.SnakeCase(n)
		}
	}
	return fmt.Sprintf("0x%04x", id)
}
