/*
Package controlchannel reads redeploy commands from, and reports deploy status to, a
single remote value.

Every operation is best effort. A channel that cannot be reached reads as the empty
value, and a status that cannot be written is dropped with a warning, so the deploy
loop never stops because the control channel is down.
*/
package controlchannel
