// Package logger provides leveled, colored logging for keyward.
//
// The logger supports multiple verbosity levels controlled by command-line
// flags. Output is formatted with semantic prefixes and colors.
//
// # Verbosity Levels
//
//   - --verbose: Shows info and warning messages
//   - --debug: Shows all messages including debug details
//
// Without flags, only critical warnings are shown.
//
// # Log Methods
//
//	Logger.Infof()           // Shown with --verbose or --debug
//	Logger.Debugf()          // Shown only with --debug
//	Logger.Warnf()           // Shown with --verbose or --debug
//	Logger.WarnfAlways()     // Always shown
//	Logger.Errorf()          // Shown with --verbose or --debug
//	Logger.ErrorfAndReturn() // Errorf, then returns the message as an error
//
// # Usage
//
//	log := logger.Logger{Verbose: verbose, Debug: debug}
//	log.Infof("Fetched %d keys", len(keys))
//
// Protocol packages take a Logger by value; the zero value is silent apart
// from WarnfAlways. Key material must never be passed to a log method.
package logger
