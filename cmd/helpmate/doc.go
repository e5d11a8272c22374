// Command helpmate is the command-line front end to the HelpMate task
// marketplace: posting tasks, browsing the discovery feed, driving matches
// through their lifecycle, messaging, ratings and earnings.
package main
