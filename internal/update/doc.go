/*
Package update implements version detection and the activation protocol.

Two independent signals feed one prompt state machine:

  - the install lifecycle of the gateway itself (a new generation installs,
    parks in Waiting while the old one is in control, and activates only on
    the explicit SKIP_WAITING message), and
  - a polled version descriptor (version.json) whose commit identifier is
    compared against the last accepted one.

They stay separate because they fail differently: one is the local install
lifecycle, the other a plain HTTP resource that fails open. The poller never
forces a reload; the user is asked, and asked again next tick if they
decline.
*/
package update
