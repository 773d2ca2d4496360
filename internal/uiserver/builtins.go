package uiserver

import "context"

func builtinCommands() []Command {
	return []Command{
		{
			Name: "START_KEYMANAGER",
			Help: "Ask the UI to show the certificate manager.",
			Run:  emitCommand(EventStartKeyManager),
		},
		{
			Name: "START_CONFDIALOG",
			Help: "Ask the UI to show the configuration dialog.",
			Run:  emitCommand(EventStartConfDialog),
		},
		{
			Name:    "CHECKSUM_CREATE_FILES",
			Help:    "Write checksum files for the given FILEs.",
			Crypto:  true,
			Options: []string{"checksum-algo"},
			Run:     createChecksums,
		},
		{
			Name:    "CHECKSUM_VERIFY_FILES",
			Help:    "Verify the given FILEs against their checksum files.",
			Crypto:  true,
			Options: []string{"checksum-algo"},
			Run:     verifyChecksums,
		},
	}
}

func emitCommand(kind EventKind) CommandFunc {
	return func(_ context.Context, s *Session) error {
		s.Emit(kind)
		return nil
	}
}
