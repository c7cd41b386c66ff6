// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// sftp implements the client side of the SFTP protocol, versions 3 through
// 6, over a pair of byte streams supplied by a transport: a spawned ssh
// process, a plain TCP socket, or an in-process SSH session. A Client is one
// negotiated session; its operations map one-to-one onto protocol requests,
// and Get/Put pipeline bulk transfers with a bounded request window.
package sftp
