package main

import (
	"fmt"

	"github.com/nous-kernel/nous/internal/agent"
	"github.com/nous-kernel/nous/internal/dispatch"
)

// Representative opcodes within each wire partition. A full deployment
// would register one binding per supported subsystem call; these cover one
// per partition so every opcode class the agent engine enforces has a
// reachable handler.
const (
	opcodeVFSStat      uint8 = 0x30 // filesystem partition (0x30-0x3F)
	opcodeAudioMute    uint8 = 0x40 // audio partition (0x40-0x4F)
	opcodeNetConnect   uint8 = 0x50 // network partition (0x50-0x5F)
	opcodeMemApprove   uint8 = 0x60 // memory-approvals partition (0x60-0x6F)
	opcodeAgentControl uint8 = 0x70 // agent-control partition (0x70-0x7F)
)

// registerAgentBindings wires the sample opcode set into e, granting each
// a capability name the operator's Profile grants enumerate.
func registerAgentBindings(e *agent.Engine, dispatcher *dispatch.Dispatcher) {
	e.RegisterOpcode(opcodeVFSStat, agent.Binding{
		Capability: "vfs.read",
		ResourceOf: func(payload []byte) string { return string(payload) },
		Handle: func(payload []byte) ([]byte, error) {
			return []byte("ok"), nil
		},
	})

	e.RegisterOpcode(opcodeAudioMute, agent.Binding{
		Capability: "audio.mute",
		ResourceOf: func([]byte) string { return "audio" },
		Handle: func([]byte) ([]byte, error) {
			return []byte("muted"), nil
		},
	})

	e.RegisterOpcode(opcodeNetConnect, agent.Binding{
		Capability: "net.connect",
		ResourceOf: func(payload []byte) string { return string(payload) },
		Handle: func(payload []byte) ([]byte, error) {
			return []byte("connected"), nil
		},
	})

	e.RegisterOpcode(opcodeMemApprove, agent.Binding{
		Capability: "mem.approve",
		ResourceOf: func(payload []byte) string { return string(payload) },
		Handle: func(payload []byte) ([]byte, error) {
			if err := dispatcher.Approvals().Approve(string(payload)); err != nil {
				return nil, err
			}
			return []byte("approved"), nil
		},
	})

	e.RegisterOpcode(opcodeAgentControl, agent.Binding{
		Capability: "agent.control",
		ResourceOf: func([]byte) string { return "control" },
		Handle: func([]byte) ([]byte, error) {
			return []byte(fmt.Sprintf("strategy=%s", dispatcher.Strategy())), nil
		},
	})
}
